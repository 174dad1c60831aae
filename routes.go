package dcsim

// routes.go converts the datacenter's switch and host links into a gonum graph.
// The graph is used when the datacenter is built to check that every host can reach
// every other, and afterwards to report the hop-by-hop path between two hosts.
// Weighting each edge by 1, a shortest path minimizes the number of hops, which in a
// tree is the path the switches forward along.

import (
	"math"
	"sort"
	"strings"

	"gonum.org/v1/gonum/graph"
	"gonum.org/v1/gonum/graph/path"
	"gonum.org/v1/gonum/graph/simple"
	"gonum.org/v1/gonum/graph/topo"
)

// routeTable holds the graph form of the topology and the shortest path trees computed on it
type routeTable struct {
	gNodes    map[int]simple.Node
	connGraph *simple.WeightedUndirectedGraph

	// shortest path trees, by id of the root
	cachedSP map[int]path.Shortest
}

// buildRouteTable returns a routeTable for the topology whose links are given as
// a map from node id to the ids of the nodes it connects to
func buildRouteTable(edges map[int][]int) *routeTable {
	rt := new(routeTable)
	rt.gNodes = make(map[int]simple.Node)
	rt.cachedSP = make(map[int]path.Shortest)
	rt.connGraph = simple.NewWeightedUndirectedGraph(0, math.Inf(1))

	for nodeID := range edges {
		rt.addNode(nodeID)
	}

	for nodeID, edgeList := range edges {
		for _, nbrID := range edgeList {
			if nbrID == nodeID {
				continue
			}
			rt.addNode(nbrID)
			weightedEdge := simple.WeightedEdge{F: rt.gNodes[nodeID], T: rt.gNodes[nbrID], W: 1.0}
			rt.connGraph.SetWeightedEdge(weightedEdge)
		}
	}
	return rt
}

func (rt *routeTable) addNode(nodeID int) {
	_, present := rt.gNodes[nodeID]
	if present {
		return
	}
	rt.gNodes[nodeID] = simple.Node(nodeID)
	rt.connGraph.AddNode(rt.gNodes[nodeID])
}

// components returns the ids in each connected component of the topology, each in ascending order
func (rt *routeTable) components() [][]int {
	comps := make([][]int, 0)
	for _, nodes := range topo.ConnectedComponents(rt.connGraph) {
		ids := convertNodeSeq(nodes)
		sort.Ints(ids)
		comps = append(comps, ids)
	}
	sort.Slice(comps, func(i, j int) bool { return comps[i][0] < comps[j][0] })
	return comps
}

// getSPTree returns the shortest path tree rooted in from, computing and caching it if needed
func (rt *routeTable) getSPTree(from int) path.Shortest {
	spTree, present := rt.cachedSP[from]
	if present {
		return spTree
	}
	spTree = path.DijkstraFrom(rt.gNodes[from], rt.connGraph)
	rt.cachedSP[from] = spTree
	return spTree
}

// routeFrom returns the shortest path from srcID to dstID as a sequence of node ids,
// empty if there is none
func (rt *routeTable) routeFrom(srcID, dstID int) []int {
	_, srcPresent := rt.gNodes[srcID]
	_, dstPresent := rt.gNodes[dstID]
	if !srcPresent || !dstPresent {
		return []int{}
	}

	// a tree rooted in the destination gives the path by symmetry
	spTree, present := rt.cachedSP[dstID]
	if present {
		revNodeSeq, _ := spTree.To(int64(srcID))
		route := convertNodeSeq(revNodeSeq)
		for i, j := 0, len(route)-1; i < j; i, j = i+1, j-1 {
			route[i], route[j] = route[j], route[i]
		}
		return route
	}

	nodeSeq, _ := rt.getSPTree(srcID).To(int64(dstID))
	return convertNodeSeq(nodeSeq)
}

// convertNodeSeq extracts the ids from a sequence of graph nodes
func convertNodeSeq(nsQ []graph.Node) []int {
	rtn := make([]int, 0, len(nsQ))
	for _, node := range nsQ {
		rtn = append(rtn, int(node.ID()))
	}
	return rtn
}

// ShowPath returns a comma-separated list of the names of the nodes on a route
func ShowPath(route []int, idToName map[int]string) string {
	names := make([]string, 0, len(route))
	for _, id := range route {
		names = append(names, idToName[id])
	}
	return strings.Join(names, ",")
}
