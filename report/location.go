// Copyright 2020 PingCAP, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// See the License for the specific language governing permissions and
// limitations under the License.

package report

import (
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"
)

// RootResolver yields the directory test locations are made relative to.
type RootResolver interface {
	Root() (string, error)
}

// WorkingDirectory resolves locations against the process working
// directory.
type WorkingDirectory struct{}

func (WorkingDirectory) Root() (string, error) {
	return os.Getwd()
}

// FrameworkRoot resolves locations against a fixed project root.
type FrameworkRoot struct {
	Dir string
}

func (r FrameworkRoot) Root() (string, error) {
	return filepath.Abs(r.Dir)
}

// Location renders file:line relative to root. Without a prefix the result
// starts with "./"; with one it is joined onto the prefix instead.
func Location(root, file string, line int, prefix string) string {
	rel := relativePath(root, file)
	var loc string
	if prefix != "" {
		loc = path.Join(prefix, rel)
	} else {
		loc = "./" + rel
	}
	if line > 0 {
		loc += ":" + strconv.Itoa(line)
	}
	return loc
}

func relativePath(root, file string) string {
	file = filepath.ToSlash(file)
	root = strings.TrimSuffix(filepath.ToSlash(root), "/")
	if root != "" && root != "." && strings.HasPrefix(file, root+"/") {
		file = strings.TrimPrefix(file, root)
	}
	file = strings.TrimPrefix(file, "./")
	return strings.TrimLeft(file, "/")
}
