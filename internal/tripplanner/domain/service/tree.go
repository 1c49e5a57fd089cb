package service

// DeepCopy copies JSON-like values so callers never share maps with the tree
func DeepCopy(v interface{}) interface{} {
	switch t := v.(type) {
	case map[string]interface{}:
		out := make(map[string]interface{}, len(t))
		for k, val := range t {
			out[k] = DeepCopy(val)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(t))
		for i, val := range t {
			out[i] = DeepCopy(val)
		}
		return out
	default:
		return v
	}
}

// Lookup walks segments from root. Missing nodes yield nil.
func Lookup(root map[string]interface{}, segments []string) interface{} {
	var cur interface{} = root
	for _, s := range segments {
		m, ok := cur.(map[string]interface{})
		if !ok {
			return nil
		}
		cur, ok = m[s]
		if !ok {
			return nil
		}
	}
	return cur
}

// Assign stores value at segments below root, creating intermediate maps and
// replacing leaves that are in the way. A nil value deletes and prunes empty parents.
func Assign(root map[string]interface{}, segments []string, value interface{}) {
	if len(segments) == 0 {
		return
	}
	if value == nil {
		Remove(root, segments)
		return
	}
	if m, ok := value.(map[string]interface{}); ok && len(m) == 0 {
		Remove(root, segments)
		return
	}
	cur := root
	for _, s := range segments[:len(segments)-1] {
		next, ok := cur[s].(map[string]interface{})
		if !ok {
			next = make(map[string]interface{})
			cur[s] = next
		}
		cur = next
	}
	cur[segments[len(segments)-1]] = value
}

// Remove deletes the value at segments and prunes parents left empty
func Remove(root map[string]interface{}, segments []string) {
	parents := make([]map[string]interface{}, 0, len(segments))
	cur := root
	for _, s := range segments[:len(segments)-1] {
		next, ok := cur[s].(map[string]interface{})
		if !ok {
			return
		}
		parents = append(parents, cur)
		cur = next
	}
	delete(cur, segments[len(segments)-1])

	// prune maps left empty, bottom up
	for i := len(parents) - 1; i >= 0; i-- {
		child := parents[i][segments[i]].(map[string]interface{})
		if len(child) > 0 {
			break
		}
		delete(parents[i], segments[i])
	}
}
