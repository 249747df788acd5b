package artifact

import (
	"encoding/json"
	"fmt"
)

// classMetaFile is the on-disk shape of a *.classmeta.json sidecar. One
// sidecar may describe several classes (nested and companion classes are
// emitted together with their enclosing class).
type classMetaFile struct {
	Classes []*Class `json:"classes"`
}

func parseClassMeta(data []byte) ([]*Class, error) {
	var file classMetaFile
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, err
	}
	if len(file.Classes) == 0 {
		// Older sidecars hold a single class object at the top level.
		var single Class
		if err := json.Unmarshal(data, &single); err != nil {
			return nil, err
		}
		if single.Type == "" {
			return nil, fmt.Errorf("classmeta document has no classes")
		}
		return []*Class{&single}, nil
	}

	for _, c := range file.Classes {
		if c.Type == "" {
			return nil, fmt.Errorf("classmeta entry missing type name")
		}
	}
	return file.Classes, nil
}
