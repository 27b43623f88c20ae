package engine

import (
	"sort"

	"github.com/shaiso/Rollout/internal/domain"
)

// Wave — набор шагов, которые можно выполнять одновременно.
// Order внутри волны отсортированы по возрастанию.
type Wave []int

// Node — узел в DAG.
type Node struct {
	// Step — определение шага из шаблона.
	Step *domain.Step

	// Order — идентификатор узла (order шага).
	Order int

	// InDegree — количество входящих рёбер (зависимостей).
	InDegree int

	// DependsOn — узлы, от которых зависит этот узел.
	DependsOn []*Node

	// Dependents — узлы, которые зависят от этого узла.
	Dependents []*Node

	// Parallel — подсказка из шаблона, на планирование не влияет.
	Parallel bool
}

// DAG — направленный граф шагов шаблона.
type DAG struct {
	// Nodes — все узлы графа (order → Node).
	Nodes map[int]*Node

	// RootNodes — узлы без зависимостей, по возрастанию order.
	RootNodes []*Node
}

// BuildDAG строит граф из шагов и рёбер.
//
// Проверяет только ссылки: каждое ребро должно указывать на существующие
// шаги, иначе DanglingReferenceError. Циклы находит Waves.
func BuildDAG(steps []domain.Step, edges []domain.DependencyEdge) (*DAG, error) {
	dag := &DAG{
		Nodes: make(map[int]*Node, len(steps)),
	}

	// Первый проход: создаём все узлы
	for i := range steps {
		step := &steps[i]
		dag.Nodes[step.Order] = &Node{
			Step:       step,
			Order:      step.Order,
			DependsOn:  make([]*Node, 0),
			Dependents: make([]*Node, 0),
		}
	}

	// Второй проход: связываем узлы по зависимостям
	for _, edge := range edges {
		node, ok := dag.Nodes[edge.Step]
		if !ok {
			return nil, &DanglingReferenceError{Step: edge.Step, Missing: edge.Step}
		}
		node.Parallel = edge.Parallel

		for _, dep := range edge.DependsOn {
			depNode, ok := dag.Nodes[dep]
			if !ok {
				return nil, &DanglingReferenceError{Step: edge.Step, Missing: dep}
			}
			dag.addEdge(depNode, node)
		}
	}

	dag.findRootNodes()
	return dag, nil
}

// addEdge добавляет ребро между узлами.
// Дополнительно проверяет на дубликаты, чтобы избежать двойного учета InDegree.
func (d *DAG) addEdge(from, to *Node) {
	for _, dep := range to.DependsOn {
		if dep.Order == from.Order {
			return
		}
	}
	from.Dependents = append(from.Dependents, to)
	to.DependsOn = append(to.DependsOn, from)
	to.InDegree++
}

// findRootNodes находит узлы без входящих рёбер.
func (d *DAG) findRootNodes() {
	d.RootNodes = make([]*Node, 0)
	for _, order := range d.sortedOrders() {
		if node := d.Nodes[order]; node.InDegree == 0 {
			d.RootNodes = append(d.RootNodes, node)
		}
	}
}

// Waves раскладывает граф по волнам (алгоритм Кана по слоям).
//
// Волна k содержит шаги, все зависимости которых лежат в волнах < k,
// причём хотя бы одна в волне k-1. Если после обхода остались узлы,
// значит есть цикл: возвращается CycleError с одним найденным циклом.
func (d *DAG) Waves() ([]Wave, error) {
	// Копируем inDegree, чтобы не модифицировать оригинал
	inDegree := make(map[int]int, len(d.Nodes))
	for order, node := range d.Nodes {
		inDegree[order] = node.InDegree
	}

	current := make(Wave, 0, len(d.RootNodes))
	for _, node := range d.RootNodes {
		current = append(current, node.Order)
	}

	waves := make([]Wave, 0)
	placed := 0

	for len(current) > 0 {
		sort.Ints(current)
		waves = append(waves, current)
		placed += len(current)

		next := make(Wave, 0)
		for _, order := range current {
			for _, dependent := range d.Nodes[order].Dependents {
				inDegree[dependent.Order]--
				if inDegree[dependent.Order] == 0 {
					next = append(next, dependent.Order)
				}
			}
		}
		current = next
	}

	// Если не все узлы обработаны — есть цикл
	if placed != len(d.Nodes) {
		return nil, &CycleError{Cycle: d.findCycle(inDegree)}
	}

	return waves, nil
}

// findCycle ищет один цикл среди неразмещённых узлов (inDegree > 0).
//
// DFS идёт по рёбрам "шаг → зависимость", начиная с наименьшего order,
// поэтому результат детерминирован.
func (d *DAG) findCycle(inDegree map[int]int) []int {
	const (
		white = iota
		gray
		black
	)

	color := make(map[int]int, len(d.Nodes))
	path := make([]int, 0)
	var cycle []int

	var visit func(order int) bool
	visit = func(order int) bool {
		color[order] = gray
		path = append(path, order)

		deps := make([]int, 0, len(d.Nodes[order].DependsOn))
		for _, dep := range d.Nodes[order].DependsOn {
			if inDegree[dep.Order] > 0 {
				deps = append(deps, dep.Order)
			}
		}
		sort.Ints(deps)

		for _, dep := range deps {
			switch color[dep] {
			case gray:
				// Цикл: от первого вхождения dep до конца пути
				for i, o := range path {
					if o == dep {
						cycle = append(append([]int(nil), path[i:]...), dep)
						return true
					}
				}
			case white:
				if visit(dep) {
					return true
				}
			}
		}

		path = path[:len(path)-1]
		color[order] = black
		return false
	}

	for _, order := range d.sortedOrders() {
		if inDegree[order] > 0 && color[order] == white {
			if visit(order) {
				return cycle
			}
		}
	}
	return nil
}

// sortedOrders возвращает order всех узлов по возрастанию.
func (d *DAG) sortedOrders() []int {
	orders := make([]int, 0, len(d.Nodes))
	for order := range d.Nodes {
		orders = append(orders, order)
	}
	sort.Ints(orders)
	return orders
}

// GetNode возвращает узел по order.
func (d *DAG) GetNode(order int) *Node {
	return d.Nodes[order]
}

// Size возвращает количество узлов в DAG.
func (d *DAG) Size() int {
	return len(d.Nodes)
}

// Resolve строит граф и раскладывает его по волнам.
// При любой ошибке волны не возвращаются.
func Resolve(steps []domain.Step, edges []domain.DependencyEdge) ([]Wave, error) {
	dag, err := BuildDAG(steps, edges)
	if err != nil {
		return nil, err
	}
	return dag.Waves()
}
