// Copyright (C) 2025 Opinari Labs (dev@opinari.app)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package artifacts

// Artifact is one classifier model the analytics pipeline loads from the
// local HuggingFace-style cache.
type Artifact struct {
	// Key is the stable id the pipeline requests the artifact by.
	Key string

	// Repo is the upstream repository, org/name.
	Repo string

	// Files are the payload files fetched per snapshot.
	Files []string

	// EstimatedMB sizes the download for pre-flight and progress weighting.
	EstimatedMB int64
}

// transformerFiles is the payload of a standard fine-tuned BERT checkpoint.
var transformerFiles = []string{
	"config.json",
	"model.safetensors",
	"tokenizer_config.json",
	"vocab.txt",
	"special_tokens_map.json",
}

// sentenceTransformerFiles adds the pooling/config layout sentence
// encoders ship on top of the base checkpoint.
var sentenceTransformerFiles = []string{
	"config.json",
	"model.safetensors",
	"tokenizer_config.json",
	"vocab.txt",
	"special_tokens_map.json",
	"sentence_bert_config.json",
	"modules.json",
}

// Catalog lists every artifact the pipeline can require. Order is the
// download order.
var Catalog = []Artifact{
	{
		Key:         "sentiment",
		Repo:        "nlptown/bert-base-multilingual-uncased-sentiment",
		Files:       transformerFiles,
		EstimatedMB: 420,
	},
	{
		Key:         "embeddings",
		Repo:        "sentence-transformers/paraphrase-multilingual-MiniLM-L12-v2",
		Files:       sentenceTransformerFiles,
		EstimatedMB: 80,
	},
	{
		Key:         "subjectivity",
		Repo:        "victorwkey/tourism-subjectivity-bert",
		Files:       transformerFiles,
		EstimatedMB: 440,
	},
	{
		Key:         "categories",
		Repo:        "victorwkey/tourism-categories-bert",
		Files:       transformerFiles,
		EstimatedMB: 440,
	},
}

// Lookup resolves a catalog key.
func Lookup(key string) (Artifact, bool) {
	for _, a := range Catalog {
		if a.Key == key {
			return a, true
		}
	}
	return Artifact{}, false
}

// AllKeys returns every catalog key in download order.
func AllKeys() []string {
	keys := make([]string, len(Catalog))
	for i, a := range Catalog {
		keys[i] = a.Key
	}
	return keys
}
