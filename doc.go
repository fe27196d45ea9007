// Package main provides the signd daemon and CLI for validating
// code-signing credential pairs and re-signing iOS app archives.
//
// The core library lives in the subpackages:
//
//	import "github.com/xalostore/signd/pkg/credential"
//	import "github.com/xalostore/signd/pkg/profile"
//	import "github.com/xalostore/signd/pkg/pipeline"
package main
