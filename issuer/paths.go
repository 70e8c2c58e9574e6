/*
Copyright Veridial Contributors. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package issuer

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/veridial/sdjwt/common"
)

// pathSegment is one step of a claim path: an object member name or an array index.
type pathSegment struct {
	name    string
	index   int
	isIndex bool
}

type claimPath struct {
	raw      string
	segments []pathSegment
}

// disclosureTarget is a resolved (parent container, access key) pair.
type disclosureTarget struct {
	path *claimPath

	// parentObject is set for object members, parentArray for array elements.
	parentObject map[string]interface{}
	parentArray  []interface{}

	key   string
	index int
}

func (t *disclosureTarget) isArrayElement() bool {
	return t.parentArray != nil
}

// parseClaimPath parses member/index addressing such as "address.street",
// "items[2]" or "a.b[0].c" into path segments.
func parseClaimPath(raw string) (*claimPath, error) {
	if raw == "" {
		return nil, fmt.Errorf("%w: path is empty", common.ErrInvalidPath)
	}

	var segments []pathSegment

	for _, part := range strings.Split(raw, ".") {
		name := part

		var indexes []int

		if i := strings.Index(part, "["); i >= 0 {
			name = part[:i]

			var err error

			indexes, err = parseIndexes(raw, part[i:])
			if err != nil {
				return nil, err
			}
		}

		if name == "" {
			return nil, fmt.Errorf("%w: '%s' has an empty member name", common.ErrInvalidPath, raw)
		}

		if name == common.SDKey || name == common.ArrayElementDigestKey {
			return nil, fmt.Errorf("%w: '%s' addresses reserved key '%s'", common.ErrInvalidPath, raw, name)
		}

		segments = append(segments, pathSegment{name: name})

		for _, idx := range indexes {
			segments = append(segments, pathSegment{index: idx, isIndex: true})
		}
	}

	if len(segments) > maxClaimsDepth {
		return nil, fmt.Errorf("%w: path '%s'", common.ErrTreeTooDeep, raw)
	}

	return &claimPath{raw: raw, segments: segments}, nil
}

func parseIndexes(raw, bracketed string) ([]int, error) {
	var indexes []int

	for bracketed != "" {
		if bracketed[0] != '[' {
			return nil, fmt.Errorf("%w: '%s' has malformed index addressing", common.ErrInvalidPath, raw)
		}

		end := strings.Index(bracketed, "]")
		if end < 0 {
			return nil, fmt.Errorf("%w: '%s' has an unterminated index", common.ErrInvalidPath, raw)
		}

		idx, err := strconv.Atoi(bracketed[1:end])
		if err != nil || idx < 0 {
			return nil, fmt.Errorf("%w: '%s' has an invalid index '%s'", common.ErrInvalidPath, raw, bracketed[1:end])
		}

		indexes = append(indexes, idx)
		bracketed = bracketed[end+1:]
	}

	return indexes, nil
}

// isPrefixOf reports whether p addresses an ancestor of (or the same node as) other.
func (p *claimPath) isPrefixOf(other *claimPath) bool {
	if len(p.segments) > len(other.segments) {
		return false
	}

	for i, seg := range p.segments {
		o := other.segments[i]
		if seg.isIndex != o.isIndex || seg.name != o.name || seg.index != o.index {
			return false
		}
	}

	return true
}

// resolveClaimPaths parses and resolves the selected paths against the claims,
// returning targets ordered deepest-first (stable by caller order within a
// depth) so that transforming a selected ancestor observes its descendants'
// digest form.
func resolveClaimPaths(claims map[string]interface{}, rawPaths []string) ([]*disclosureTarget, error) {
	paths := make([]*claimPath, 0, len(rawPaths))

	for _, raw := range rawPaths {
		path, err := parseClaimPath(raw)
		if err != nil {
			return nil, err
		}

		paths = append(paths, path)
	}

	for i := 0; i < len(paths); i++ {
		for j := i + 1; j < len(paths); j++ {
			if paths[i].isPrefixOf(paths[j]) || paths[j].isPrefixOf(paths[i]) {
				return nil, fmt.Errorf("%w: '%s' and '%s' overlap",
					common.ErrDuplicatePath, paths[i].raw, paths[j].raw)
			}
		}
	}

	targets := make([]*disclosureTarget, 0, len(paths))

	for _, path := range paths {
		target, err := resolveTarget(claims, path)
		if err != nil {
			return nil, err
		}

		targets = append(targets, target)
	}

	sort.SliceStable(targets, func(i, j int) bool {
		return len(targets[i].path.segments) > len(targets[j].path.segments)
	})

	return targets, nil
}

func resolveTarget(claims map[string]interface{}, path *claimPath) (*disclosureTarget, error) {
	var parent interface{} = claims

	for _, seg := range path.segments[:len(path.segments)-1] {
		next, err := descend(parent, seg, path)
		if err != nil {
			return nil, err
		}

		parent = next
	}

	last := path.segments[len(path.segments)-1]

	// Check the addressed node exists before building the target.
	if _, err := descend(parent, last, path); err != nil {
		return nil, err
	}

	target := &disclosureTarget{path: path}

	if last.isIndex {
		target.parentArray = parent.([]interface{})
		target.index = last.index
	} else {
		target.parentObject = parent.(map[string]interface{})
		target.key = last.name
	}

	return target, nil
}

func descend(parent interface{}, seg pathSegment, path *claimPath) (interface{}, error) {
	if seg.isIndex {
		arr, ok := parent.([]interface{})
		if !ok {
			return nil, fmt.Errorf("%w: '%s' indexes a non-array node", common.ErrPathNotFound, path.raw)
		}

		if seg.index >= len(arr) {
			return nil, fmt.Errorf("%w: '%s' index %d is out of bounds", common.ErrPathNotFound, path.raw, seg.index)
		}

		return arr[seg.index], nil
	}

	obj, ok := parent.(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("%w: '%s' addresses a member of a non-object node", common.ErrPathNotFound, path.raw)
	}

	value, ok := obj[seg.name]
	if !ok {
		return nil, fmt.Errorf("%w: '%s' member '%s' does not exist", common.ErrPathNotFound, path.raw, seg.name)
	}

	return value, nil
}
