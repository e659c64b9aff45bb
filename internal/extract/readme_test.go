package extract

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/mcp-directory-crawler/internal/crawler"
)

const sampleReadme = "# Mongo MCP\n\n" +
	"[![npm](https://img.shields.io/npm/v/x.svg)](https://npm.im/x)\n\n" +
	"A Model Context Protocol server for querying MongoDB collections.\n\n" +
	"## Getting Started\n\n" +
	"```bash\nnpx -y mongo-mcp\n```\n\n" +
	"```bash\n# run in a container\ndocker run -i acme/mongo-mcp\n```\n\n" +
	"## Configuration\n\n" +
	"```json\n{\"mcpServers\": {\"mongo\": {\"command\": \"npx\"}}}\n```\n\n" +
	"## Available Tools\n\n" +
	"### find_documents\nFind documents.\n\n" +
	"### aggregate_pipeline\nRun a pipeline.\n\n" +
	"## License\nMIT\n"

func TestNormalizeHeading(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "getting_started", NormalizeHeading("🚀 Getting Started!"))
	assert.Equal(t, "installation", NormalizeHeading("[Installation](#install)"))
	assert.Equal(t, "quick_start", NormalizeHeading("Quick-Start"))
}

func TestSplitSections(t *testing.T) {
	t.Parallel()

	sections := SplitSections(sampleReadme)
	keys := make([]string, 0, len(sections))
	for _, s := range sections {
		keys = append(keys, s.Key)
	}
	assert.Equal(t, []string{
		"overview", "mongo_mcp", "getting_started", "configuration",
		"available_tools", "find_documents", "aggregate_pipeline", "license",
	}, keys)
	assert.Equal(t, 3, sections[5].Level)
}

func TestSplitSectionsIgnoresHashesInCode(t *testing.T) {
	t.Parallel()

	sections := SplitSections("intro\n```sh\n# not a heading\n```\n")
	require.Len(t, sections, 1)
	assert.Contains(t, sections[0].Body, "# not a heading")
}

func TestFindSection(t *testing.T) {
	t.Parallel()

	sections := SplitSections("## Setup Guide\nsteps\n## Install\ncmd\n")
	s, ok := FindSection(sections, InstallHeadings)
	require.True(t, ok)
	assert.Equal(t, "install", s.Key, "exact matches win over partial ones")

	_, ok = FindSection(sections, []string{"license"})
	assert.False(t, ok)
}

func TestCodeBlocks(t *testing.T) {
	t.Parallel()

	assert.Equal(t, []string{"a", "b\nc"}, CodeBlocks("x\n```\na\n```\ny\n```sh\nb\nc\n```\n```\n\n```"))
}

func TestInstallFromReadme(t *testing.T) {
	t.Parallel()

	install := InstallFromReadme(sampleReadme)
	require.NotNil(t, install)
	assert.Equal(t, "npx -y mongo-mcp", install.Platforms[crawler.PlatformNode])
	assert.Equal(t, "docker run -i acme/mongo-mcp", install.Platforms[crawler.PlatformDocker])
	assert.Contains(t, install.Platforms[crawler.PlatformConfig], "mcpServers")
	assert.Len(t, install.CodeBlocks, 2)
}

func TestInstallFromReadmeKeywordFallback(t *testing.T) {
	t.Parallel()

	install := InstallFromReadme("# Tool\n\nSome words.\n\n$ pip install foo-mcp\n")
	require.NotNil(t, install)
	assert.Equal(t, "pip install foo-mcp", install.Platforms[crawler.PlatformPython])

	assert.Nil(t, InstallFromReadme("# Nothing\n\nNo commands here.\n"))
}

func TestParseReadme(t *testing.T) {
	t.Parallel()

	f := ParseReadme(sampleReadme, "mongo")
	assert.Equal(t, "A Model Context Protocol server for querying MongoDB collections.", f.Description)
	assert.Equal(t, []string{"find_documents", "aggregate_pipeline"}, toolNames(f.Tools))
	require.NotNil(t, f.Install)
}
