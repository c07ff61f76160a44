package inventory

import (
	"encoding/json"

	"github.com/tidwall/gjson"

	"github.com/app-sre/external-resources-manager/internal/catalog"
	"github.com/app-sre/external-resources-manager/internal/model"
)

// matchesSelector reports whether doc is a valid expansion target for sel:
// at least one include path must resolve against doc, and no exclude path
// may. Exclude always wins over include on overlap.
func matchesSelector(sel model.NamespaceSelector, doc catalog.NamespaceDoc) (bool, error) {
	raw, err := json.Marshal(doc.Raw)
	if err != nil {
		return false, err
	}

	for _, path := range sel.Exclude {
		if gjson.GetBytes(raw, path).Exists() {
			return false, nil
		}
	}
	if len(sel.Include) == 0 {
		return false, nil
	}
	for _, path := range sel.Include {
		if gjson.GetBytes(raw, path).Exists() {
			return true, nil
		}
	}
	return false, nil
}
