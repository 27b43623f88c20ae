package backend

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"sync"
	"time"

	"github.com/shaiso/Rollout/internal/executor"
	"github.com/shaiso/Rollout/internal/inventory"
	"github.com/sony/gobreaker"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

// Default configuration values.
const (
	defaultDialTimeout = 10 * time.Second
	maxLineSize        = 1024 * 1024
)

// Command — команда для выполнения на хосте.
type Command struct {
	// Cmd — строка для удалённого shell.
	Cmd string

	// Stdin — данные для stdin (опционально).
	Stdin io.Reader
}

// Remote выполняет команды на хостах инвентаря.
type Remote interface {
	// Run выполняет команду, передавая строки stdout/stderr в emit.
	// Ненулевой код выхода возвращается как *RemoteError.
	Run(ctx context.Context, vm inventory.VM, cmd Command, emit executor.Emit) error

	// Dial открывает TCP-соединение к addr через хост (ssh -L).
	Dial(ctx context.Context, vm inventory.VM, network, addr string) (net.Conn, error)
}

// RemoteError — команда завершилась с ненулевым кодом.
type RemoteError struct {
	Host       string
	ExitStatus int
}

// Error реализует интерфейс error.
func (e *RemoteError) Error() string {
	return fmt.Sprintf("command on %s exited with status %d", e.Host, e.ExitStatus)
}

// SSHConfig — конфигурация SSH.
type SSHConfig struct {
	// User — пользователь по умолчанию (если у VM не указан свой).
	User string

	// KeyPath — путь к приватному ключу.
	KeyPath string

	// KnownHostsPath — файл known_hosts для проверки ключей хостов.
	KnownHostsPath string

	// InsecureIgnoreHostKey — не проверять ключи хостов.
	InsecureIgnoreHostKey bool

	// Port — порт для VM без своего порта (default: 22).
	Port int

	// DialTimeout — таймаут установки соединения (default: 10s).
	DialTimeout time.Duration

	Logger *slog.Logger
}

// SSH — Remote поверх golang.org/x/crypto/ssh.
//
// Для каждого хоста свой circuit breaker: после серии неудачных
// подключений хост временно считается недоступным и вызовы падают
// сразу, не дожидаясь таймаута.
type SSH struct {
	user        string
	port        int
	auth        []ssh.AuthMethod
	hostKey     ssh.HostKeyCallback
	dialTimeout time.Duration
	logger      *slog.Logger

	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker
}

// NewSSH создаёт SSH Remote.
func NewSSH(cfg SSHConfig) (*SSH, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	dialTimeout := cfg.DialTimeout
	if dialTimeout <= 0 {
		dialTimeout = defaultDialTimeout
	}

	var auth []ssh.AuthMethod
	if cfg.KeyPath != "" {
		key, err := os.ReadFile(cfg.KeyPath)
		if err != nil {
			return nil, fmt.Errorf("read ssh key: %w", err)
		}
		signer, err := ssh.ParsePrivateKey(key)
		if err != nil {
			return nil, fmt.Errorf("parse ssh key: %w", err)
		}
		auth = append(auth, ssh.PublicKeys(signer))
	}

	var hostKey ssh.HostKeyCallback
	switch {
	case cfg.InsecureIgnoreHostKey:
		logger.Warn("ssh host key verification disabled")
		hostKey = ssh.InsecureIgnoreHostKey()
	case cfg.KnownHostsPath != "":
		cb, err := knownhosts.New(cfg.KnownHostsPath)
		if err != nil {
			return nil, fmt.Errorf("load known_hosts: %w", err)
		}
		hostKey = cb
	default:
		return nil, errors.New("ssh: known_hosts path is required unless host key verification is disabled")
	}

	return &SSH{
		user:        cfg.User,
		port:        cfg.Port,
		auth:        auth,
		hostKey:     hostKey,
		dialTimeout: dialTimeout,
		logger:      logger,
		breakers:    make(map[string]*gobreaker.CircuitBreaker),
	}, nil
}

// breaker возвращает circuit breaker хоста.
func (s *SSH) breaker(host string) *gobreaker.CircuitBreaker {
	s.mu.Lock()
	defer s.mu.Unlock()

	if cb, ok := s.breakers[host]; ok {
		return cb
	}

	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "ssh-" + host,
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			s.logger.Warn("ssh circuit breaker state changed",
				"breaker", name,
				"from", from.String(),
				"to", to.String(),
			)
		},
	})
	s.breakers[host] = cb
	return cb
}

// connect открывает SSH-соединение через circuit breaker хоста.
func (s *SSH) connect(ctx context.Context, vm inventory.VM) (*ssh.Client, error) {
	user := vm.User
	if user == "" {
		user = s.user
	}

	config := &ssh.ClientConfig{
		User:            user,
		Auth:            s.auth,
		HostKeyCallback: s.hostKey,
		Timeout:         s.dialTimeout,
		BannerCallback:  func(string) error { return nil },
	}

	if vm.Port == 0 && s.port > 0 {
		vm.Port = inventory.Port(s.port)
	}
	addr := vm.Address()
	res, err := s.breaker(vm.Name).Execute(func() (interface{}, error) {
		dialer := net.Dialer{Timeout: s.dialTimeout}
		conn, err := dialer.DialContext(ctx, "tcp", addr)
		if err != nil {
			return nil, err
		}
		c, chans, reqs, err := ssh.NewClientConn(conn, addr, config)
		if err != nil {
			conn.Close()
			return nil, err
		}
		return ssh.NewClient(c, chans, reqs), nil
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, fmt.Errorf("host %s temporarily unavailable: %w", vm.Name, err)
		}
		return nil, fmt.Errorf("ssh connect %s (%s): %w", vm.Name, addr, err)
	}
	return res.(*ssh.Client), nil
}

// Run выполняет команду на хосте.
func (s *SSH) Run(ctx context.Context, vm inventory.VM, cmd Command, emit executor.Emit) error {
	client, err := s.connect(ctx, vm)
	if err != nil {
		return err
	}
	defer client.Close()

	sess, err := client.NewSession()
	if err != nil {
		return fmt.Errorf("new session: %w", err)
	}
	defer sess.Close()

	stdout, err := sess.StdoutPipe()
	if err != nil {
		return fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, err := sess.StderrPipe()
	if err != nil {
		return fmt.Errorf("stderr pipe: %w", err)
	}
	if cmd.Stdin != nil {
		sess.Stdin = cmd.Stdin
	}

	if err := sess.Start(cmd.Cmd); err != nil {
		return fmt.Errorf("start command: %w", err)
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() { defer wg.Done(); streamLines(stdout, emit) }()
	go func() { defer wg.Done(); streamLines(stderr, emit) }()

	waitErr := make(chan error, 1)
	go func() {
		wg.Wait()
		waitErr <- sess.Wait()
	}()

	select {
	case err := <-waitErr:
		return remoteError(vm.Name, err)
	case <-ctx.Done():
		_ = sess.Signal(ssh.SIGKILL)
		_ = sess.Close()
		_ = client.Close()
		return ctx.Err()
	}
}

// Dial открывает соединение к addr через SSH-хост.
// Соединение с хостом закрывается вместе с возвращённым net.Conn.
func (s *SSH) Dial(ctx context.Context, vm inventory.VM, network, addr string) (net.Conn, error) {
	client, err := s.connect(ctx, vm)
	if err != nil {
		return nil, err
	}

	conn, err := client.DialContext(ctx, network, addr)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("tunnel %s via %s: %w", addr, vm.Name, err)
	}
	return &tunnelConn{Conn: conn, client: client}, nil
}

// tunnelConn закрывает SSH-клиент вместе с соединением.
type tunnelConn struct {
	net.Conn
	client *ssh.Client
}

func (c *tunnelConn) Close() error {
	err := c.Conn.Close()
	c.client.Close()
	return err
}

// remoteError превращает ошибку ssh в RemoteError.
func remoteError(host string, err error) error {
	if err == nil {
		return nil
	}
	var exitErr *ssh.ExitError
	if errors.As(err, &exitErr) {
		return &RemoteError{Host: host, ExitStatus: exitErr.ExitStatus()}
	}
	return fmt.Errorf("command on %s: %w", host, err)
}

// streamLines передаёт строки из r в emit до EOF.
func streamLines(r io.Reader, emit executor.Emit) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	for scanner.Scan() {
		if emit != nil {
			emit(scanner.Text())
		}
	}
	// Остаток после ошибки сканера читаем, чтобы не блокировать удалённую сторону.
	_, _ = io.Copy(io.Discard, r)
}
