package store

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// transactionAliases maps legacy POS field names onto the stored columns.
var transactionAliases = map[string]string{
	"total":         "totalAmount",
	"paymentMethod": "paymentMode",
}

// normalizeTransaction renames legacy fields and stores structured line
// items as JSON text. An explicit canonical field wins over its alias.
func normalizeTransaction(fields map[string]json.RawMessage) error {
	for alias, canonical := range transactionAliases {
		v, ok := fields[alias]
		if !ok {
			continue
		}
		delete(fields, alias)
		if _, exists := fields[canonical]; !exists {
			fields[canonical] = v
		}
	}

	items, ok := fields["items"]
	if !ok {
		return nil
	}
	trimmed := bytes.TrimSpace(items)
	if len(trimmed) == 0 || (trimmed[0] != '{' && trimmed[0] != '[') {
		return nil
	}
	var compact bytes.Buffer
	if err := json.Compact(&compact, trimmed); err != nil {
		return fmt.Errorf("%w: transactions.items: %v", ErrValidation, err)
	}
	encoded, err := json.Marshal(compact.String())
	if err != nil {
		return fmt.Errorf("%w: transactions.items: %v", ErrValidation, err)
	}
	fields["items"] = encoded
	return nil
}
