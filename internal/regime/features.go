package regime

import "fmt"

// FeatureVector is the compact 8-float feature set sent to the external
// analysis service and written to training records. The wire names are
// Pascal-cased to match the service contract. All fields are expected to be
// in [0,1]; Clamp enforces that before serialization.
type FeatureVector struct {
	Ret1m    float32 `json:"Ret1m"`
	RvZ      float32 `json:"RvZ"`
	Ar1      float32 `json:"Ar1"`
	CvdSlope float32 `json:"CvdSlope"`
	Entropy  float32 `json:"Entropy"`
	Hurst    float32 `json:"Hurst"`
	Imb      float32 `json:"Imb"`
	Stress   float32 `json:"Stress"`
}

// ToArray flattens the vector in wire order.
func (f FeatureVector) ToArray() []float32 {
	return []float32{f.Ret1m, f.RvZ, f.Ar1, f.CvdSlope, f.Entropy, f.Hurst, f.Imb, f.Stress}
}

// FeaturesFromArray rebuilds a vector from wire order. The array must carry
// at least 8 values.
func FeaturesFromArray(a []float32) (FeatureVector, error) {
	if len(a) < 8 {
		return FeatureVector{}, fmt.Errorf("feature array needs 8 values, got %d", len(a))
	}
	return FeatureVector{
		Ret1m:    a[0],
		RvZ:      a[1],
		Ar1:      a[2],
		CvdSlope: a[3],
		Entropy:  a[4],
		Hurst:    a[5],
		Imb:      a[6],
		Stress:   a[7],
	}, nil
}

// Valid reports whether every feature is inside [0,1].
func (f FeatureVector) Valid() bool {
	for _, v := range f.ToArray() {
		if v < 0 || v > 1 {
			return false
		}
	}
	return true
}

// Clamp returns a copy with every feature forced into [0,1].
func (f FeatureVector) Clamp() FeatureVector {
	c := func(v float32) float32 {
		if v < 0 {
			return 0
		}
		if v > 1 {
			return 1
		}
		return v
	}
	return FeatureVector{
		Ret1m:    c(f.Ret1m),
		RvZ:      c(f.RvZ),
		Ar1:      c(f.Ar1),
		CvdSlope: c(f.CvdSlope),
		Entropy:  c(f.Entropy),
		Hurst:    c(f.Hurst),
		Imb:      c(f.Imb),
		Stress:   c(f.Stress),
	}
}
