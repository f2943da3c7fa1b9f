//go:build tools

// Package tools pins code generators used by go:generate so their versions follow go.mod.
package tools

import (
	_ "go.uber.org/mock/mockgen"
)
