/*
Copyright Veridial Contributors. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package maphelpers provides utilities for claims in map representation.
package maphelpers

// CopyMap performs a deep copy of a map, including nested maps and slices.
func CopyMap(m map[string]interface{}) map[string]interface{} {
	cm := make(map[string]interface{}, len(m))

	for k, v := range m {
		cm[k] = CopyValue(v)
	}

	return cm
}

// CopyValue performs a deep copy of a JSON-like value.
func CopyValue(v interface{}) interface{} {
	switch val := v.(type) {
	case map[string]interface{}:
		return CopyMap(val)
	case []interface{}:
		cs := make([]interface{}, len(val))
		for i, e := range val {
			cs[i] = CopyValue(e)
		}

		return cs
	default:
		return v
	}
}
