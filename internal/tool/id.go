package tool

import "slices"

// ID names a tool the reply model may call. The set is closed: a call whose
// name does not parse to a known ID is reported back to the model instead of
// being dispatched.
type ID string

const KnowledgeBaseSearch ID = "knowledge_base_search"

// ids is the closed set in definition order.
var ids = []ID{KnowledgeBaseSearch}

// ParseID resolves a model-supplied tool name.
func ParseID(name string) (ID, bool) {
	if i := slices.Index(ids, ID(name)); i >= 0 {
		return ids[i], true
	}
	return "", false
}
