// Copyright 2026 Teradata
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package prompts

import (
	"fmt"

	"github.com/pmezard/go-difflib/difflib"
	"github.com/sergi/go-diff/diffmatchpatch"
)

// UnifiedDiff produces a standard line-based unified diff with three
// lines of context. The diff stored on a version is advisory; the
// authoritative artifact is the version's content itself.
func UnifiedDiff(oldText, newText, oldLabel, newLabel string) (string, error) {
	ud := difflib.UnifiedDiff{
		A:        difflib.SplitLines(oldText),
		B:        difflib.SplitLines(newText),
		FromFile: oldLabel,
		ToFile:   newLabel,
		Context:  3,
	}
	text, err := difflib.GetUnifiedDiffString(ud)
	if err != nil {
		return "", fmt.Errorf("failed to compute unified diff: %w", err)
	}
	return text, nil
}

// Similarity calculates similarity between two strings (0.0 to 1.0)
// based on the length of their common text.
func Similarity(a, b string) float64 {
	if a == b {
		return 1.0
	}

	if len(a) == 0 || len(b) == 0 {
		return 0.0
	}

	dmp := diffmatchpatch.New()
	diffs := dmp.DiffMain(a, b, false)

	commonLength := 0
	totalLength := 0

	for _, diff := range diffs {
		switch diff.Type {
		case diffmatchpatch.DiffEqual:
			commonLength += len(diff.Text)
			totalLength += len(diff.Text)
		case diffmatchpatch.DiffInsert:
			totalLength += len(diff.Text)
		case diffmatchpatch.DiffDelete:
			totalLength += len(diff.Text)
		}
	}

	if totalLength == 0 {
		return 1.0
	}

	return float64(commonLength) / float64(totalLength)
}
