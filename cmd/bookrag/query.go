package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/kailas-cloud/bookrag/internal/domain/mode"
	"github.com/kailas-cloud/bookrag/internal/usecase/query"
)

type queryFlags struct {
	publishers []string
	mode       string
	judge      string
	sort       string
	judgeMin   float64
	useLLM     bool
	noJudge    bool
	noNearMiss bool
}

func newQueryCmd(root *rootFlags) *cobra.Command {
	f := &queryFlags{}
	cmd := &cobra.Command{
		Use:   "query <text>...",
		Short: "Run one query and print the result as JSON",
		Long: "Run one query and print the result as JSON. Several arguments after --batch are\n" +
			"embedded together and answered one by one.",
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			batch, _ := cmd.Flags().GetBool("batch")
			if _, ok := mode.ParseJudge(f.judge); !ok {
				return fmt.Errorf("invalid --judge %q: want real, proxy or off", f.judge)
			}
			opts := f.options(cmd.Flags().Changed("judge-min"))

			a, err := newApp(cmd.Context(), root, appOptions{disableJudge: f.noJudge})
			if err != nil {
				return err
			}
			defer a.Close()

			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			if batch {
				return enc.Encode(a.query.RunBatch(cmd.Context(), args, opts))
			}
			return enc.Encode(a.query.Run(cmd.Context(), strings.Join(args, " "), opts))
		},
	}
	cmd.Flags().StringSliceVar(&f.publishers, "pubs", nil, "publishers to search (default: all ready)")
	cmd.Flags().StringVar(&f.mode, "mode", query.DefaultMode, "mode bundle: quick or exact")
	cmd.Flags().StringVar(&f.judge, "judge", "", "judge mode: real, proxy or off (default: judge.mode)")
	cmd.Flags().StringVar(&f.sort, "sort", string(mode.Best), "hit order: best, semantic or lexical")
	cmd.Flags().Float64Var(&f.judgeMin, "judge-min", 0, "display floor on judge scores")
	cmd.Flags().BoolVar(&f.useLLM, "use-llm", false, "assemble the clamped answer prompt")
	cmd.Flags().BoolVar(&f.noJudge, "no-judge", false, "skip relevance judging")
	cmd.Flags().BoolVar(&f.noNearMiss, "no-near-miss", false, "do not compute near misses on abstention")
	cmd.Flags().Bool("batch", false, "treat each argument as a separate query")
	return cmd
}

func (f *queryFlags) options(judgeMinSet bool) query.Options {
	opts := query.Options{
		Publishers: f.publishers,
		Mode:       f.mode,
		JudgeMode:  f.judge,
		Sort:       mode.ParseSort(f.sort),
		UseLLM:     f.useLLM,
	}
	if judgeMinSet {
		v := f.judgeMin
		opts.JudgeMin = &v
	}
	if f.noNearMiss {
		off := false
		opts.ComputeNearMiss = &off
	}
	return opts
}
