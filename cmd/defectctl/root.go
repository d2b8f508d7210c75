package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/miradorstack/defect-analyzer/internal/api"
	"github.com/miradorstack/defect-analyzer/internal/loader"
	"github.com/miradorstack/defect-analyzer/internal/models"
	"github.com/miradorstack/defect-analyzer/internal/repo"
	"github.com/miradorstack/defect-analyzer/internal/services"
	"github.com/miradorstack/defect-analyzer/internal/utils"
)

type options struct {
	defectsPath string
	paramsPath  string
	defectSheet string
	paramSheet  string
	logLevel    string
	server      string
	timeout     time.Duration

	from     string
	to       string
	modelIDs []string
}

func newRootCmd() *cobra.Command {
	opts := &options{}

	root := &cobra.Command{
		Use:           "defectctl",
		Short:         "Run defect-rate analyses against local record files or a running analyzer",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	f := root.PersistentFlags()
	f.StringVar(&opts.defectsPath, "defects", "data/defect_rate.csv", "defect-rate file (.csv or .xlsx)")
	f.StringVar(&opts.paramsPath, "params", "data/params.csv", "parameter file (.csv or .xlsx)")
	f.StringVar(&opts.defectSheet, "defect-sheet", "", "worksheet holding defect rates (xlsx only)")
	f.StringVar(&opts.paramSheet, "param-sheet", "", "worksheet holding parameters (xlsx only)")
	f.StringVar(&opts.logLevel, "log-level", "warn", "log level written to stderr")
	f.StringVar(&opts.server, "server", "", "gRPC address of a running analyzer; analyses run locally when empty")
	f.DurationVar(&opts.timeout, "timeout", 30*time.Second, "deadline for a single command")

	root.AddCommand(
		newAnalysisCmd(opts, "correlation", "Correlate each parameter type with defect rate", runCorrelation),
		newAnalysisCmd(opts, "importance", "Rank parameter types by feature importance", runImportance),
		newAnalysisCmd(opts, "analyze", "Run both analyses over the same data", runBoth),
		newModelsCmd(opts),
	)
	return root
}

type runner func(ctx context.Context, opts *options, req api.AnalyzeRequest) (interface{}, error)

func newAnalysisCmd(opts *options, use, short string, run runner) *cobra.Command {
	cmd := &cobra.Command{
		Use:   use,
		Short: short,
		Example: fmt.Sprintf(`  defectctl %[1]s --from 2024-01-01 --to 2024-02-01 --models M1,M2
  defectctl %[1]s --server localhost:50051 --from 2024-01-01 --to 2024-02-01 --models M1`, use),
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), opts.timeout)
			defer cancel()

			req := api.AnalyzeRequest{DateFrom: opts.from, DateTo: opts.to, ModelIDs: opts.modelIDs}
			out, err := run(ctx, opts, req)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), out)
		},
	}
	cmd.Flags().StringVar(&opts.from, "from", "", "start of the parameter time window (inclusive)")
	cmd.Flags().StringVar(&opts.to, "to", "", "end of the parameter time window (inclusive)")
	cmd.Flags().StringSliceVar(&opts.modelIDs, "models", nil, "model ids to include (comma-separated)")
	_ = cmd.MarkFlagRequired("from")
	_ = cmd.MarkFlagRequired("to")
	_ = cmd.MarkFlagRequired("models")
	return cmd
}

func newModelsCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "models",
		Short: "List the model ids present in the defect-rate file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), opts.timeout)
			defer cancel()

			ids, err := opts.localService().ListModels(ctx)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), ids)
		},
	}
}

func runCorrelation(ctx context.Context, opts *options, req api.AnalyzeRequest) (interface{}, error) {
	if opts.server != "" {
		return remote(opts, func(c *api.AnalysisEngineClient) (interface{}, error) {
			return c.AnalyzeCorrelation(ctx, req)
		})
	}
	domain, err := req.ToDomain()
	if err != nil {
		return nil, err
	}
	return opts.localService().AnalyzeCorrelation(ctx, domain)
}

func runImportance(ctx context.Context, opts *options, req api.AnalyzeRequest) (interface{}, error) {
	if opts.server != "" {
		return remote(opts, func(c *api.AnalysisEngineClient) (interface{}, error) {
			return c.AnalyzeFeatureImportance(ctx, req)
		})
	}
	domain, err := req.ToDomain()
	if err != nil {
		return nil, err
	}
	return opts.localService().AnalyzeFeatureImportance(ctx, domain)
}

func runBoth(ctx context.Context, opts *options, req api.AnalyzeRequest) (interface{}, error) {
	if opts.server != "" {
		return remote(opts, func(c *api.AnalysisEngineClient) (interface{}, error) {
			corr, err := c.AnalyzeCorrelation(ctx, req)
			if err != nil {
				return nil, err
			}
			imp, err := c.AnalyzeFeatureImportance(ctx, req)
			if err != nil {
				return nil, err
			}
			return models.CombinedResponse{Correlation: corr, FeatureImportance: imp}, nil
		})
	}
	domain, err := req.ToDomain()
	if err != nil {
		return nil, err
	}
	return opts.localService().AnalyzeAll(ctx, domain)
}

func (o *options) localService() *services.AnalysisService {
	logger := utils.NewLoggerTo(os.Stderr, o.logLevel, false)
	datasets := repo.NewDatasetRepo(repo.DatasetSource{
		DefectRatesPath: o.defectsPath,
		ParametersPath:  o.paramsPath,
		DefectRateSheet: o.defectSheet,
		ParameterSheet:  o.paramSheet,
	}, loader.New(logger), 0, logger)
	return services.NewAnalysisService(logger, datasets, nil, nil, 0)
}

func remote(opts *options, call func(*api.AnalysisEngineClient) (interface{}, error)) (interface{}, error) {
	conn, err := grpc.NewClient(opts.server, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("connect to %s: %w", opts.server, err)
	}
	defer conn.Close()

	return call(api.NewAnalysisEngineClient(conn))
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
