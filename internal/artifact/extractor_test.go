package artifact_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ryehost/rye/internal/artifact"
)

const sampleTool = `---
category: files
name: read
title: Read a file
runtime_ref: runtimes/script
tags: [io, fs]
---
body text here
`

func TestYAMLFrontMatterExtractorParse(t *testing.T) {
	ex, err := artifact.ExtractorFor(artifact.Tool)
	require.NoError(t, err)

	md, body, err := ex.Parse([]byte(sampleTool))
	require.NoError(t, err)
	require.Equal(t, "files", md.Category())
	require.Equal(t, "read", md.Name())
	require.Equal(t, "runtimes/script", md.RuntimeRef())
	require.Equal(t, []string{"io", "fs"}, md.Tags())
	require.Equal(t, "body text here\n", body)

	require.NoError(t, ex.Validate("files/read", md))
}

func TestValidateRejectsCategoryMismatch(t *testing.T) {
	ex, err := artifact.ExtractorFor(artifact.Tool)
	require.NoError(t, err)

	md := artifact.Metadata{"category": "files", "runtime_ref": "x"}
	err = ex.Validate("net/http", md)
	require.Error(t, err)
}

func TestValidateRequiresRuntimeRefForTools(t *testing.T) {
	ex, err := artifact.ExtractorFor(artifact.Tool)
	require.NoError(t, err)

	md := artifact.Metadata{"category": "files"}
	err = ex.Validate("files/read", md)
	require.Error(t, err)
}
