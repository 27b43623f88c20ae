package backend

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/shaiso/Rollout/internal/domain"
	"github.com/shaiso/Rollout/internal/executor"
	"github.com/shaiso/Rollout/internal/inventory"
)

// FileCopyRunner копирует файлы FT на хост и сверяет sha256.
type FileCopyRunner struct {
	cfg Config
	now func() time.Time
}

// NewFileCopyRunner создаёт FileCopyRunner.
func NewFileCopyRunner(cfg Config) *FileCopyRunner {
	return &FileCopyRunner{cfg: cfg.withDefaults(), now: time.Now}
}

// Run реализует executor.Runner.
func (r *FileCopyRunner) Run(ctx context.Context, inv executor.Invocation, emit executor.Emit) (string, error) {
	spec, ok := inv.Step.Spec.(domain.FileCopy)
	if !ok {
		return "", fmt.Errorf("%w: %T", executor.ErrUnexpectedSpec, inv.Step.Spec)
	}

	vm, err := r.cfg.Inventory.VM(inv.Target)
	if err != nil {
		return "", err
	}

	ft := spec.FTNumber
	if ft == "" {
		ft = inv.FTNumber
	}

	stamp := r.now().Unix()
	sums := make([]string, 0, len(spec.Files))

	for _, file := range spec.Files {
		data, err := r.readFile(ft, file)
		if err != nil {
			return strings.Join(sums, "; "), err
		}
		sum := sha256.Sum256(data)
		want := hex.EncodeToString(sum[:])

		dest := path.Join(spec.TargetPath, path.Base(filepath.ToSlash(file)))
		tmp := fmt.Sprintf("%s.tmp.%d", dest, stamp)

		if spec.Backup {
			emit(fmt.Sprintf("backing up %s", dest))
			script := fmt.Sprintf("if [ -e %[1]s ]; then cp -p %[1]s %[2]s; fi",
				shellQuote(dest), shellQuote(fmt.Sprintf("%s.backup.%d", dest, stamp)))
			if err := r.cfg.Remote.Run(ctx, vm, Command{Cmd: asUser(script, spec.Sudo, inv.Step.TargetUser)}, emit); err != nil {
				return strings.Join(sums, "; "), fmt.Errorf("backup %s: %w", dest, err)
			}
		}

		emit(fmt.Sprintf("copying %s -> %s (%d bytes)", file, dest, len(data)))
		script := fmt.Sprintf("mkdir -p %s && cat > %s && mv -f %s %s",
			shellQuote(spec.TargetPath), shellQuote(tmp), shellQuote(tmp), shellQuote(dest))
		upload := Command{
			Cmd:   asUser(script, spec.Sudo, inv.Step.TargetUser),
			Stdin: bytes.NewReader(data),
		}
		if err := r.cfg.Remote.Run(ctx, vm, upload, emit); err != nil {
			return strings.Join(sums, "; "), fmt.Errorf("upload %s: %w", dest, err)
		}

		got, err := r.remoteSum(ctx, vm, dest, spec.Sudo, inv.Step.TargetUser)
		if err != nil {
			return strings.Join(sums, "; "), fmt.Errorf("verify %s: %w", dest, err)
		}
		if got != want {
			return strings.Join(sums, "; "), fmt.Errorf("%w: %s: local %s, remote %s", ErrChecksumMismatch, dest, want, got)
		}

		emit(fmt.Sprintf("verified %s sha256 %s", dest, want))
		sums = append(sums, fmt.Sprintf("%s sha256:%s", dest, want))
	}

	return strings.Join(sums, "; "), nil
}

// readFile читает файл FT, не выпуская путь за пределы каталога FT.
func (r *FileCopyRunner) readFile(ft, file string) ([]byte, error) {
	base := filepath.Join(r.cfg.FilesRoot, ft)
	full := filepath.Join(base, file)

	rel, err := filepath.Rel(base, full)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return nil, fmt.Errorf("%w: %s escapes %s", ErrMissingFile, file, ft)
	}

	data, err := os.ReadFile(full)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrMissingFile, full)
		}
		return nil, fmt.Errorf("read %s: %w", full, err)
	}
	return data, nil
}

// remoteSum возвращает sha256 файла на хосте.
func (r *FileCopyRunner) remoteSum(ctx context.Context, vm inventory.VM, dest string, sudo bool, user string) (string, error) {
	out := &capture{}
	cmd := Command{Cmd: asUser("sha256sum "+shellQuote(dest), sudo, user)}
	if err := r.cfg.Remote.Run(ctx, vm, cmd, out.emit); err != nil {
		return "", err
	}

	fields := strings.Fields(out.String())
	if len(fields) == 0 {
		return "", errors.New("empty sha256sum output")
	}
	return fields[0], nil
}
