package main

import (
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/jbeekman/elf2sgxs/internal/convert"
	glog "github.com/jbeekman/elf2sgxs/internal/log"
	"github.com/jbeekman/elf2sgxs/internal/mmapfile"
	"github.com/jbeekman/elf2sgxs/internal/sgxs"
)

var (
	configPath   string
	heapSize     uint64
	stackSize    uint64
	ssaFrameSize uint32
	debugFlag    bool
	verbose      bool
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "elf2sgxs <input.elf> <output.sgxs>",
		Short: "Convert a position-independent ELF executable into a canonical SGXS enclave image",
		Long: `elf2sgxs reads a statically-linked, position-independent ELF64 executable
built against the restricted dynamic-linking discipline required for SGX
enclaves, and emits the canonical SGXS stream: an ECREATE measurement
record followed by every page of the image in strictly ascending address
order.

Examples:
  elf2sgxs enclave.elf enclave.sgxs
  elf2sgxs --heap-size 0x100000 --stack-size 0x20000 enclave.elf enclave.sgxs
  elf2sgxs --config enclave.yaml enclave.elf enclave.sgxs`,
		Args: cobra.ExactArgs(2),
		RunE: runConvert,
	}

	rootCmd.Flags().StringVar(&configPath, "config", "", "YAML config file with ssa_frame_size/heap_size/stack_size/debug")
	rootCmd.Flags().Uint64Var(&heapSize, "heap-size", 0, "heap byte count, multiple of 4 KiB (overrides config)")
	rootCmd.Flags().Uint64Var(&stackSize, "stack-size", 0, "stack byte count, multiple of 4 KiB (overrides config)")
	rootCmd.Flags().Uint32Var(&ssaFrameSize, "ssa-frame-size", 0, "SSA frame page count (overrides config)")
	rootCmd.Flags().BoolVar(&debugFlag, "debug", false, "request 2 SSA slots instead of 1 (overrides config)")
	rootCmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "verbose debug logging")

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runConvert(cmd *cobra.Command, args []string) (err error) {
	inputPath, outputPath := args[0], args[1]

	glog.Init(verbose)
	log := glog.L.WithCategory("cli")
	id := uuid.NewString()

	cfg, err := convert.LoadConfigFile(configPath)
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("heap-size") {
		cfg.HeapSize = heapSize
	}
	if cmd.Flags().Changed("stack-size") {
		cfg.StackSize = stackSize
	}
	if cmd.Flags().Changed("ssa-frame-size") {
		cfg.SSAFrameSize = ssaFrameSize
	}
	if cmd.Flags().Changed("debug") {
		cfg.Debug = debugFlag
	}

	in, err := mmapfile.Open(inputPath)
	if err != nil {
		return fmt.Errorf("open %s: %w", inputPath, err)
	}
	defer func() {
		err = multierr.Append(err, in.Close())
	}()

	out, createErr := os.Create(outputPath)
	if createErr != nil {
		return fmt.Errorf("create %s: %w", outputPath, createErr)
	}
	defer func() {
		err = multierr.Append(err, out.Close())
	}()

	log.Info("converting", zap.String("input", inputPath), zap.String("output", outputPath), glog.Fn(id))

	writer := sgxs.NewCanonicalWriter(out)
	if convErr := convert.Convert(in.Bytes(), cfg, writer, glog.L); convErr != nil {
		return fmt.Errorf("conversion %s failed: %w", id, convErr)
	}
	return nil
}
