// Copyright (C) 2025 Opinari Labs (dev@opinari.app)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/opinari-app/opinari-setup/cmd/opinari-setup/internal/config"
)

// runConfigGet prints one value. Secret-bearing keys print redacted.
func runConfigGet(cmd *cobra.Command, args []string) error {
	store, err := config.Open(configPath)
	if err != nil {
		return err
	}
	value, err := store.Get(args[0])
	if err != nil {
		return err
	}
	fmt.Println(value)
	return nil
}

// runConfigSet writes one value through the validated store.
func runConfigSet(cmd *cobra.Command, args []string) error {
	store, err := config.Open(configPath)
	if err != nil {
		return err
	}
	if err := store.Set(args[0], args[1]); err != nil {
		return err
	}
	return nil
}

// runConfigList prints every key the store exposes.
func runConfigList(cmd *cobra.Command, args []string) error {
	store, err := config.Open(configPath)
	if err != nil {
		return err
	}
	for _, key := range config.Keys() {
		value, err := store.Get(key)
		if err != nil {
			return err
		}
		fmt.Printf("%s=%s\n", key, value)
	}
	return nil
}
