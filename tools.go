//go:build tools
// +build tools

// Package tools pins go generate dependencies (mockgen) in go.mod.
package main

import (
	_ "go.uber.org/mock/mockgen"
)
