// Copyright 2025 LiveDataRag Contributors
// SPDX-License-Identifier: Apache-2.0

/*
Package logger provides structured JSON logging for LiveDataRag services.

Each entry is a single JSON line on stdout with a timestamp, level,
component, instance and container identity, and optional user and request
correlation ids, so logs are directly consumable by any aggregation stack.

Create a logger per component:

	log := logger.New("safety-validator")

Log with user and request context:

	log.Info("user-123", "req-456", "action validated", map[string]interface{}{
	    "action_type": "alert",
	})

Errors can carry a status code and wrapped error:

	log.ErrorWithCode("user-123", "req-456", "dispatch failed", 502, err, nil)

The INSTANCE_ID environment variable sets the instance identity; the
container name is taken from the hostname. Logger instances are safe for
concurrent use.
*/
package logger
