// Package crypto wraps the BGV scheme as an additively homomorphic cipher over
// single int64 scalars.
package crypto

import (
	"fmt"

	"github.com/tuneinsight/lattigo/v6/schemes/bgv"
)

// PlaintextModulus is a 50-bit NTT-friendly prime (T = 1 mod 2^15).
// Blinded differences must stay inside (-T/2, T/2) for the sign to survive decoding.
const PlaintextModulus uint64 = 0x20000000b0001

// MaxBlindedMagnitude is the largest |r*(a-b)| that still decodes with the correct sign.
const MaxBlindedMagnitude int64 = int64(PlaintextModulus / 2)

// DefaultParametersLiteral returns the parameter set shared by the query node and the oracle.
func DefaultParametersLiteral() bgv.ParametersLiteral {
	return bgv.ParametersLiteral{
		LogN:             13,
		LogQ:             []int{60, 60},
		LogP:             []int{61},
		PlaintextModulus: PlaintextModulus,
	}
}

// NewParameters builds BGV parameters from the default literal.
func NewParameters() (bgv.Parameters, error) {
	params, err := bgv.NewParametersFromLiteral(DefaultParametersLiteral())
	if err != nil {
		return bgv.Parameters{}, fmt.Errorf("bgv parameters: %w", err)
	}
	return params, nil
}
