package cli

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testTree() *cobra.Command {
	root := &cobra.Command{Use: "research", Short: "root"}
	root.PersistentFlags().Bool("output", false, "Output as JSON")
	AddHelpJSONFlag(root)

	status := &cobra.Command{Use: "status <job-id>", Aliases: []string{"get"}, Short: "Show a job", RunE: func(*cobra.Command, []string) error { return nil }}
	submit := &cobra.Command{Use: "submit <query>", Short: "Submit", RunE: func(*cobra.Command, []string) error { return nil }}
	submit.Flags().String("scope", "", "Knowledge scope")
	submit.Flags().BoolP("wait", "w", false, "Wait")
	_ = submit.MarkFlagRequired("scope")
	hidden := &cobra.Command{Use: "debug", Hidden: true}

	root.AddCommand(status, submit, hidden)
	return root
}

func findSub(t *testing.T, schema CommandSchema, name string) CommandSchema {
	t.Helper()
	for _, sub := range schema.Subcommands {
		if sub.Name == name {
			return sub
		}
	}
	t.Fatalf("subcommand %q not found", name)
	return CommandSchema{}
}

func TestGenerateSchema(t *testing.T) {
	schema := GenerateSchema(testTree())

	assert.Equal(t, "research", schema.Name)
	require.Len(t, schema.Subcommands, 2, "hidden commands are skipped")

	status := findSub(t, schema, "status")
	assert.Equal(t, []string{"get"}, status.Aliases)

	submit := findSub(t, schema, "submit")
	byName := map[string]FlagSchema{}
	for _, f := range submit.Flags {
		byName[f.Name] = f
	}
	assert.True(t, byName["scope"].Required)
	assert.False(t, byName["wait"].Required)
	assert.Equal(t, "w", byName["wait"].Shorthand)
	assert.Equal(t, "bool", byName["wait"].Type)
	assert.True(t, byName["output"].Inherited)
	assert.NotContains(t, byName, "help-json")
}

func TestWriteSchema(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteSchema(&buf, testTree()))

	var decoded CommandSchema
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	assert.Equal(t, "research", decoded.Name)
}

func TestHelpJSONTarget(t *testing.T) {
	root := testTree()

	_, ok := helpJSONTarget(root, []string{"status", "job-1"})
	assert.False(t, ok)

	target, ok := helpJSONTarget(root, []string{"get", "--help-json"})
	require.True(t, ok)
	assert.Equal(t, "status", target.Name())

	target, ok = helpJSONTarget(root, []string{"--help-json"})
	require.True(t, ok)
	assert.Equal(t, "research", target.Name())

	target, ok = helpJSONTarget(root, []string{"nope", "--help-json"})
	require.True(t, ok)
	assert.Equal(t, "research", target.Name())
}
