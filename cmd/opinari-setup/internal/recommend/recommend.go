// Copyright (C) 2025 Opinari Labs (dev@opinari.app)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package recommend maps a detected hardware tier to a default local model.
//
// The mapping is advisory: the wizard lets the user override it, and the
// installer accepts any model id. It is total by construction so detection
// failures still yield a usable default.
package recommend

import "github.com/opinari-app/opinari-setup/cmd/opinari-setup/internal/hardware"

// Local model catalog. Ids are Ollama tags; sizes chosen so the low tier
// fits in 4GB of RAM and the high tier still runs on 16GB with a GPU.
const (
	ModelLow  = "llama3.2:3b"
	ModelMid  = "mistral:7b"
	ModelHigh = "llama3.1:8b"
)

// Catalog returns every model the engine can recommend, smallest first.
func Catalog() []string {
	return []string{ModelLow, ModelMid, ModelHigh}
}

// LocalModel returns the default model for a tier. Unknown tiers map to the
// smallest model.
func LocalModel(tier hardware.Tier) string {
	switch tier {
	case hardware.TierHigh:
		return ModelHigh
	case hardware.TierMid:
		return ModelMid
	default:
		return ModelLow
	}
}

// InCatalog reports whether id is one of the recommendable models. The
// wizard uses this only to label the choice; out-of-catalog ids are allowed.
func InCatalog(id string) bool {
	for _, m := range Catalog() {
		if m == id {
			return true
		}
	}
	return false
}
