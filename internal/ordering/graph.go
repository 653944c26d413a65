package ordering

import (
	"sort"
	"strings"

	"github.com/arwahdevops/dbtester/internal/dataset"
)

// graph holds parent->child edges between tables, addressed by their
// declaration index.
type graph struct {
	tables []dataset.TableName
	exact  map[string]int
	folded map[string]int
	adj    [][]int
	seen   map[[2]int]bool
}

func newGraph(tables []dataset.TableName) *graph {
	g := &graph{
		tables: tables,
		exact:  make(map[string]int, len(tables)),
		folded: make(map[string]int, len(tables)),
		adj:    make([][]int, len(tables)),
		seen:   make(map[[2]int]bool),
	}
	for i, t := range tables {
		if _, ok := g.exact[t.Value()]; !ok {
			g.exact[t.Value()] = i
		}
		if _, ok := g.folded[strings.ToLower(t.Value())]; !ok {
			g.folded[strings.ToLower(t.Value())] = i
		}
	}
	return g
}

func (g *graph) lookup(name string) (int, bool) {
	if i, ok := g.exact[name]; ok {
		return i, true
	}
	i, ok := g.folded[strings.ToLower(name)]
	return i, ok
}

// addEdge ignores tables outside the graph and self references: rows of a
// self-referencing table are ordered by the dataset itself, not by the
// table order.
func (g *graph) addEdge(parent, child string) {
	p, okP := g.lookup(parent)
	c, okC := g.lookup(child)
	if !okP || !okC || p == c || g.seen[[2]int{p, c}] {
		return
	}
	g.seen[[2]int{p, c}] = true
	g.adj[p] = append(g.adj[p], c)
}

// components returns the strongly connected components (Tarjan), each
// sorted by declaration index.
func (g *graph) components() [][]int {
	n := len(g.tables)
	index := make([]int, n)
	low := make([]int, n)
	onStack := make([]bool, n)
	for i := range index {
		index[i] = -1
	}
	for _, a := range g.adj {
		sort.Ints(a)
	}

	var (
		counter int
		stack   []int
		comps   [][]int
	)
	var strongConnect func(v int)
	strongConnect = func(v int) {
		index[v] = counter
		low[v] = counter
		counter++
		stack = append(stack, v)
		onStack[v] = true

		for _, w := range g.adj[v] {
			if index[w] < 0 {
				strongConnect(w)
				low[v] = min(low[v], low[w])
			} else if onStack[w] {
				low[v] = min(low[v], index[w])
			}
		}

		if low[v] == index[v] {
			var comp []int
			for {
				w := stack[len(stack)-1]
				stack = stack[:len(stack)-1]
				onStack[w] = false
				comp = append(comp, w)
				if w == v {
					break
				}
			}
			sort.Ints(comp)
			comps = append(comps, comp)
		}
	}
	for v := 0; v < n; v++ {
		if index[v] < 0 {
			strongConnect(v)
		}
	}
	return comps
}

// order runs Kahn's algorithm over the condensation. Among ready components
// the one holding the earliest declared table goes first, so the result is
// deterministic. Components with more than one table are returned as cycles.
func (g *graph) order() ([]dataset.TableName, [][]dataset.TableName) {
	comps := g.components()
	compOf := make([]int, len(g.tables))
	for ci, c := range comps {
		for _, v := range c {
			compOf[v] = ci
		}
	}

	inDegree := make([]int, len(comps))
	succ := make([][]int, len(comps))
	linked := make(map[[2]int]bool)
	for v, targets := range g.adj {
		for _, w := range targets {
			a, b := compOf[v], compOf[w]
			if a == b || linked[[2]int{a, b}] {
				continue
			}
			linked[[2]int{a, b}] = true
			succ[a] = append(succ[a], b)
			inDegree[b]++
		}
	}

	var ready []int
	for ci := range comps {
		if inDegree[ci] == 0 {
			ready = append(ready, ci)
		}
	}

	out := make([]dataset.TableName, 0, len(g.tables))
	var cycles [][]dataset.TableName
	for len(ready) > 0 {
		// components are sorted internally, so c[0] is the earliest table
		sort.Slice(ready, func(i, j int) bool { return comps[ready[i]][0] < comps[ready[j]][0] })
		ci := ready[0]
		ready = ready[1:]

		members := make([]dataset.TableName, len(comps[ci]))
		for i, v := range comps[ci] {
			members[i] = g.tables[v]
		}
		if len(members) > 1 {
			cycles = append(cycles, members)
		}
		out = append(out, members...)

		for _, next := range succ[ci] {
			inDegree[next]--
			if inDegree[next] == 0 {
				ready = append(ready, next)
			}
		}
	}
	return out, cycles
}
