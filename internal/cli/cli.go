package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	internal_http "github.com/chainward/chainward/internal/http"
	"github.com/chainward/chainward/internal/log"
	internal_storage "github.com/chainward/chainward/internal/storage"
	"github.com/chainward/chainward/pkg/engine"
	"github.com/chainward/chainward/pkg/storage"
	"github.com/spf13/cobra"
)

func SetupCLI(rootCmd *cobra.Command) {
	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the coordination engine HTTP server",
		Run: func(cmd *cobra.Command, args []string) {
			port, err := cmd.Flags().GetString("port")
			if err != nil {
				log.GetLogger().Errorf("Error retrieving port flag: %v", err)
				os.Exit(1)
			}
			nodes, err := cmd.Flags().GetInt("nodes")
			if err != nil {
				log.GetLogger().Errorf("Error retrieving nodes flag: %v", err)
				os.Exit(1)
			}
			cfg := engine.DefaultConfig()
			for i := 1; i <= nodes; i++ {
				cfg.DefaultNodes = append(cfg.DefaultNodes, fmt.Sprintf("node-%d", i))
			}
			eng := engine.New(cfg, log.GetLogger())
			if err := internal_http.StartServer(port, eng); err != nil {
				log.GetLogger().Errorf("Server failed: %v", err)
				os.Exit(1)
			}
		},
	}
	serveCmd.Flags().String("port", "8080", "HTTP listen port")
	serveCmd.Flags().Int("nodes", 3, "Number of default nodes to register")

	simulateCmd := &cobra.Command{
		Use:   "simulate",
		Short: "Run a scripted coordination scenario and report the outcome",
		Run: func(cmd *cobra.Command, args []string) {
			nodes, _ := cmd.Flags().GetInt("nodes")
			tasks, _ := cmd.Flags().GetInt("tasks")
			ticks, _ := cmd.Flags().GetInt("ticks")
			failNode, _ := cmd.Flags().GetString("fail-node")
			failAfter, _ := cmd.Flags().GetInt("fail-after")
			dropAcks, _ := cmd.Flags().GetBool("drop-acks")
			outDir, _ := cmd.Flags().GetString("out")
			dbConnStr, _ := cmd.Flags().GetString("db")
			label, _ := cmd.Flags().GetString("label")

			runSimulation(simulationParams{
				nodes:     nodes,
				tasks:     tasks,
				ticks:     ticks,
				failNode:  failNode,
				failAfter: failAfter,
				dropAcks:  dropAcks,
				outDir:    outDir,
				dbConnStr: dbConnStr,
				label:     label,
			})
		},
	}
	simulateCmd.Flags().Int("nodes", 3, "Number of nodes to register")
	simulateCmd.Flags().Int("tasks", 10, "Number of tasks to submit")
	simulateCmd.Flags().Int("ticks", 20, "Number of ticks to run")
	simulateCmd.Flags().String("fail-node", "", "Node to fail mid-run (optional)")
	simulateCmd.Flags().Int("fail-after", 1, "Tick after which the node failure is injected")
	simulateCmd.Flags().Bool("drop-acks", false, "Suppress completion acknowledgements")
	simulateCmd.Flags().String("out", "", "Directory for CSV exports (optional)")
	simulateCmd.Flags().String("db", "", "PostgreSQL connection string to archive the run (optional)")
	simulateCmd.Flags().String("label", "simulation", "Label for the archived run")

	rootCmd.AddCommand(serveCmd, simulateCmd)
}

type simulationParams struct {
	nodes     int
	tasks     int
	ticks     int
	failNode  string
	failAfter int
	dropAcks  bool
	outDir    string
	dbConnStr string
	label     string
}

func runSimulation(p simulationParams) {
	cfg := engine.DefaultConfig()
	// A short execution window keeps wall-clock simulations quick.
	cfg.ExecDuration = 100 * time.Millisecond
	cfg.UncertaintyTimeout = 200 * time.Millisecond
	for i := 1; i <= p.nodes; i++ {
		cfg.DefaultNodes = append(cfg.DefaultNodes, fmt.Sprintf("node-%d", i))
	}
	eng := engine.New(cfg, log.GetLogger())
	eng.SetSimulation(engine.Simulation{DropAcks: p.dropAcks})

	for i := 1; i <= p.tasks; i++ {
		eng.SubmitTask(fmt.Sprintf("task-%d", i))
	}
	for tick := 1; tick <= p.ticks; tick++ {
		eng.ProcessTick()
		if p.failNode != "" && tick == p.failAfter {
			eng.InjectNodeFailure(p.failNode)
		}
		time.Sleep(cfg.ExecDuration / 2)
	}

	metrics := eng.Metrics()
	integrity := eng.VerifyIntegrity()
	fmt.Fprintf(os.Stdout, "Simulation finished: completed=%d blocked=%d uncertain=%d pending=%d running=%d\n",
		metrics.Completed, metrics.Blocked, metrics.Uncertain, metrics.Pending, metrics.Running)
	fmt.Fprintf(os.Stdout, "Integrity: matrix=%v chain=%v anchors=%v (%d events)\n",
		integrity.MatrixValid, integrity.ChainValid, integrity.AnchorsValid, metrics.EventsTotal)

	if p.outDir != "" {
		if err := exportCSVs(eng, p.outDir); err != nil {
			log.GetLogger().Errorf("Failed to export CSVs: %v", err)
			fmt.Fprintf(os.Stderr, "Error: failed to export CSVs: %v\n", err)
			os.Exit(1)
		}
		fmt.Fprintf(os.Stdout, "Exported tasks/nodes/events/chain CSVs to %s\n", p.outDir)
	}

	if p.dbConnStr != "" {
		archiveRun(eng, p.dbConnStr, p.label, integrity.ChainValid)
	}
}

func exportCSVs(eng *engine.Engine, dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	exports := map[string]func(f *os.File) error{
		"tasks.csv":  func(f *os.File) error { return eng.WriteTasksCSV(f) },
		"nodes.csv":  func(f *os.File) error { return eng.WriteNodesCSV(f) },
		"events.csv": func(f *os.File) error { return eng.WriteEventsCSV(f) },
		"chain.csv":  func(f *os.File) error { return eng.WriteChainCSV(f) },
	}
	for name, write := range exports {
		f, err := os.Create(filepath.Join(dir, name))
		if err != nil {
			return err
		}
		if err := write(f); err != nil {
			f.Close()
			return err
		}
		if err := f.Close(); err != nil {
			return err
		}
	}
	return nil
}

func archiveRun(eng *engine.Engine, dbConnStr, label string, chainValid bool) {
	archive, err := internal_storage.InitArchive(dbConnStr)
	if err != nil {
		log.GetLogger().Errorf("Failed to initialize archive: %v", err)
		fmt.Fprintf(os.Stderr, "Error: failed to initialize archive: %v\n", err)
		os.Exit(1)
	}
	defer archive.Close()

	archiver := storage.NewArchiver(archive, log.GetLogger())
	id, err := archiver.ArchiveRun(label, eng.Events(), eng.Tasks(), eng.Nodes(), chainValid)
	if err != nil {
		log.GetLogger().Errorf("Failed to archive run: %v", err)
		fmt.Fprintf(os.Stderr, "Error: failed to archive run: %v\n", err)
		os.Exit(1)
	}
	fmt.Fprintf(os.Stdout, "Archived run '%s' with ID %d\n", label, id)
}
