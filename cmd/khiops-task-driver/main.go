// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

// khiops-task-driver runs the parallel task framework from the
// command line: solve a resource grant against a cluster description,
// drive a job as the coordinator, or serve as one worker process.
package main

import "os"

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
