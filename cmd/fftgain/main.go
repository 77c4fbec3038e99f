// Command fftgain estimates a normalization gain for an impulse
// response file, placing IRs of different origin in the same loudness
// ballpark.
//
// The analysis is empirical: only the first 150-200 ms of the IR is
// examined, where the main energy (first and second reflections) lives.
// Long reverb tails are ignored. The gain combines the low-frequency
// average power and the peak bin power of that window.
package main

import (
	"fmt"
	"math"
	"os"

	algofft "github.com/MeKo-Christian/algo-fft"
	vecmath "github.com/cwbudde/algo-vecmath"
	"github.com/spf13/cobra"

	"github.com/cwbudde/algo-convolver/audiosrc"
)

func main() {
	rootCmd := &cobra.Command{
		Use:          "fftgain <ir-file>",
		Short:        "Estimate a normalization gain for an impulse response",
		Args:         cobra.ExactArgs(1),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return analyze(args[0])
		},
	}
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func analyze(path string) error {
	sf, err := audiosrc.OpenFile(path)
	if err != nil {
		return err
	}

	up := int(math.Ceil(float64(sf.SampleRate()) / 48000.0))
	windowSize := 8192 * 2 * up
	dataSize := windowSize / 2
	nChannels := sf.Channels()

	plan, err := algofft.NewPlan64(windowSize)
	if err != nil {
		return fmt.Errorf("fftgain: FFT plan: %w", err)
	}

	powerAtBin := make([]float64, dataSize)
	input := make([]float32, windowSize)
	fftIn := make([]complex128, windowSize)
	fftOut := make([]complex128, windowSize)
	re := make([]float64, dataSize)
	im := make([]float64, dataSize)
	power := make([]float64, dataSize)

	var peak float32

	for c := 0; c < nChannels; c++ {
		clear(input)
		if _, err := sf.Read(input[:dataSize], 0, c); err != nil {
			return fmt.Errorf("fftgain: reading channel %d: %w", c, err)
		}

		for _, v := range input {
			if abs32(v) > abs32(peak) {
				peak = v
			}
		}

		for i, v := range input {
			fftIn[i] = complex(float64(v), 0)
		}
		if err := plan.Forward(fftOut, fftIn); err != nil {
			return fmt.Errorf("fftgain: FFT: %w", err)
		}

		for i := 0; i < dataSize; i++ {
			re[i] = real(fftOut[i])
			im[i] = imag(fftOut[i])
		}
		vecmath.Power(power, re, im)
		for i := range powerAtBin {
			powerAtBin[i] += power[i]
		}
	}

	if nChannels > 1 {
		for i := range powerAtBin {
			powerAtBin[i] /= float64(nChannels)
		}
	}

	var pp float64
	for i := 8; i < dataSize-1; i++ {
		pp = math.Max(pp, powerAtBin[i])
	}

	var ap float64
	for i := 0; i < dataSize/(up*2); i++ {
		ap += powerAtBin[i]
	}
	ap /= float64(dataSize) / float64(up+1)

	gain := 1.0 / (math.Pow(ap, 0.3) * math.Pow(pp, 0.2))
	if peak < 0 {
		gain = -gain
	}

	fmt.Fprintf(os.Stderr, "%-24s: Peak power: %.2fdB LF-average: %.2fdB\n",
		path, powerToDB(pp), powerToDB(ap))
	fmt.Printf("gain: %f\n", gain)
	return nil
}

func powerToDB(a float64) float64 {
	return 10 * math.Log10(a)
}

func abs32(x float32) float32 {
	if x < 0 {
		return -x
	}
	return x
}
