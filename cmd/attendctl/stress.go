package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"smartattendance/internal/face"
)

// stressReport summarises how often a jittered confidence clears the threshold.
type stressReport struct {
	Confidence float64 `json:"confidence"`
	Spread     float64 `json:"spread"`
	Threshold  float64 `json:"threshold"`
	Samples    int     `json:"samples"`
	Matches    int     `json:"matches"`
	MatchRate  float64 `json:"match_rate"`
}

var stressCmd = &cobra.Command{
	Use:   "stress",
	Short: "Replay a confidence with seeded noise against the match threshold",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		flags := cmd.Flags()
		conf, _ := flags.GetFloat64("confidence")
		spread, _ := flags.GetFloat64("spread")
		threshold, _ := flags.GetFloat64("threshold")
		seed, _ := flags.GetInt64("seed")
		n, _ := flags.GetInt("n")
		if n <= 0 {
			return fmt.Errorf("--n must be positive")
		}
		if conf < 0 || conf > 1 || spread < 0 {
			return fmt.Errorf("--confidence must be in [0, 1] and --spread non-negative")
		}

		v := face.NewVerifier(threshold)
		rep := stressReport{Confidence: conf, Spread: spread, Threshold: v.Threshold, Samples: n}
		for _, c := range face.NewJitter(spread, seed).Sample(conf, n) {
			if v.Decide(c) == face.Match {
				rep.Matches++
			}
		}
		rep.MatchRate = float64(rep.Matches) / float64(n)
		return printJSON(cmd.OutOrStdout(), rep)
	},
}

func init() {
	stressCmd.Flags().Float64("confidence", 0.8, "Base confidence to perturb")
	stressCmd.Flags().Float64("spread", 0.05, "Width of the uniform noise band")
	stressCmd.Flags().Float64("threshold", face.DefaultMatchThreshold, "Match threshold")
	stressCmd.Flags().Int64("seed", 1, "Noise seed")
	stressCmd.Flags().Int("n", 1000, "Number of samples")
}
