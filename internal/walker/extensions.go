package walker

// defaultExtensions covers mainstream source languages plus Markdown and
// notebooks. Extensions include the leading dot and are compared lowercase.
var defaultExtensions = []string{
	// Go
	".go",
	// Python
	".py", ".pyi", ".ipynb",
	// JavaScript / TypeScript
	".js", ".jsx", ".mjs", ".cjs", ".ts", ".tsx", ".mts", ".cts",
	// JVM
	".java", ".kt", ".kts", ".scala", ".groovy",
	// C family
	".c", ".h", ".cpp", ".cc", ".cxx", ".hpp", ".hh", ".hxx",
	// .NET
	".cs", ".fs", ".vb",
	// Systems
	".rs", ".zig",
	// Scripting
	".rb", ".php", ".pl", ".pm", ".lua", ".sh", ".bash", ".zsh", ".ps1",
	// Apple
	".swift", ".m", ".mm",
	// Other languages
	".ex", ".exs", ".erl", ".hrl", ".hs", ".ml", ".mli", ".clj", ".cljs",
	".dart", ".r", ".jl", ".nim", ".v", ".sol",
	// Config and markup commonly carrying logic
	".sql", ".graphql", ".proto", ".tf",
	// Docs
	".md", ".markdown", ".rst", ".txt",
}

// DefaultExtensions returns a copy of the built-in extension list.
func DefaultExtensions() []string {
	out := make([]string, len(defaultExtensions))
	copy(out, defaultExtensions)
	return out
}
