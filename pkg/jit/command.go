package jit

// Command 操作员命令，取值只能是本文件中定义的类型
type Command interface {
	command()
}

type (
	// Setup hooks the registration function of the selected target.
	Setup struct{}
	// List prints the registry as a table.
	List struct{}
	// Break adds a breakpoint on the first function whose name contains Name.
	Break struct{ Name string }
	// Add registers a record by hand, bypassing the event reader.
	Add struct{ Record CodeRecord }
	// Watch appends name patterns that get a breakpoint once registered.
	Watch struct{ Patterns []string }
	// ListPatterns prints the pending watch patterns.
	ListPatterns struct{}
	// Scan walks every entry already linked into the descriptor.
	Scan struct{}
	// Status prints the monitor state and event counters.
	Status struct{}
	// Export writes the registry as a perf map file.
	Export struct{ Path string }
)

func (Setup) command()        {}
func (List) command()         {}
func (Break) command()        {}
func (Add) command()          {}
func (Watch) command()        {}
func (ListPatterns) command() {}
func (Scan) command()         {}
func (Status) command()       {}
func (Export) command()       {}
