package mapsync

// orders nodes so that every node comes after its parent, starting from the root.
// The sort is stable: a list that is already parent-first keeps its order.
// Nodes whose ancestor chain does not reach the root (orphans, cycles) are appended
// after the reachable nodes in their input order. No node is dropped.
func SortParentFirst(nodes []*NodeRecord) []*NodeRecord {
	return SortParentFirstFunc(nodes, func(node *NodeRecord) bool {
		return node.IsRoot
	})
}

// `isAnchor` marks nodes that can be placed without their parent being in the list,
// e.g. nodes whose parent already exists in the target document
func SortParentFirstFunc(nodes []*NodeRecord, isAnchor func(*NodeRecord) bool) []*NodeRecord {
	sorted := make([]*NodeRecord, 0, len(nodes))
	placedIds := map[string]bool{}
	placed := map[*NodeRecord]bool{}
	// parent id -> nodes waiting on that parent, in input order
	waiting := map[string][]*NodeRecord{}

	place := func(node *NodeRecord) {
		stack := []*NodeRecord{node}
		for 0 < len(stack) {
			next := stack[len(stack)-1]
			stack = stack[:len(stack)-1]

			sorted = append(sorted, next)
			placed[next] = true
			placedIds[next.Id] = true

			children := waiting[next.Id]
			delete(waiting, next.Id)
			// push in reverse so children are placed in input order
			for i := len(children) - 1; 0 <= i; i -= 1 {
				stack = append(stack, children[i])
			}
		}
	}

	for _, node := range nodes {
		if isAnchor(node) || placedIds[node.Parent] {
			place(node)
		} else {
			waiting[node.Parent] = append(waiting[node.Parent], node)
		}
	}

	for _, node := range nodes {
		if !placed[node] {
			sorted = append(sorted, node)
		}
	}

	return sorted
}

// all transitive descendants of `nodeId`, breadth-first, not including `nodeId`.
// The walk tracks visited ids so a parent cycle terminates.
func Descendants(parents map[string]string, nodeId string) []string {
	children := map[string][]string{}
	for id, parent := range parents {
		children[parent] = append(children[parent], id)
	}

	descendants := []string{}
	visited := map[string]bool{
		nodeId: true,
	}
	queue := []string{nodeId}
	for 0 < len(queue) {
		id := queue[0]
		queue = queue[1:]
		for _, childId := range children[id] {
			if visited[childId] {
				continue
			}
			visited[childId] = true
			descendants = append(descendants, childId)
			queue = append(queue, childId)
		}
	}
	return descendants
}
