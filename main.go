// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package main

import "github.com/jeranaias/parley/internal/cli"

func main() {
	cli.Execute()
}
