package deviation

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassifyThresholds(t *testing.T) {
	baseline := &Baseline{
		ID: "b-1", CaseID: "well-42", State: BaselineApproved,
		Volume: 10.0, Density: 2.0, MaxPressureAllowed: 3000,
	}

	tests := []struct {
		name string
		m    Measurement
		want Classification
	}{
		{"all nominal", Measurement{Volume: 10.0, Density: 2.0, MaxPressure: 2500}, ClassOK},
		{"volume deviation exactly 10 percent stays OK", Measurement{Volume: 11.0, Density: 2.0, MaxPressure: 2500}, ClassOK},
		{"volume deviation just above 10 percent alerts", Measurement{Volume: 11.00001, Density: 2.0, MaxPressure: 2500}, ClassAlert},
		{"volume deviation exactly 20 percent stays ALERT", Measurement{Volume: 12.0, Density: 2.0, MaxPressure: 2500}, ClassAlert},
		{"volume deviation just above 20 percent is critical", Measurement{Volume: 12.00001, Density: 2.0, MaxPressure: 2500}, ClassCritical},
		{"volume undershoot uses absolute deviation", Measurement{Volume: 7.9, Density: 2.0, MaxPressure: 2500}, ClassCritical},
		{"density deviation below 5 percent stays OK", Measurement{Volume: 10.0, Density: 2.09, MaxPressure: 2500}, ClassOK},
		{"density deviation above 5 percent alerts", Measurement{Volume: 10.0, Density: 2.11, MaxPressure: 2500}, ClassAlert},
		{"density deviation just above 8 percent is critical", Measurement{Volume: 10.0, Density: 2.17, MaxPressure: 2500}, ClassCritical},
		{"pressure exactly at allowed maximum is not exceeded", Measurement{Volume: 10.0, Density: 2.0, MaxPressure: 3000}, ClassOK},
		{"pressure one unit above forces critical", Measurement{Volume: 10.0, Density: 2.0, MaxPressure: 3001}, ClassCritical},
		{"pressure overrides otherwise nominal deviations", Measurement{Volume: 10.1, Density: 2.01, MaxPressure: 3000.5}, ClassCritical},
		{"spec scenario 8 to 9 cubic meters is an alert", Measurement{Volume: 9.0, Density: 2.0, MaxPressure: 2500}, ClassAlert},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := baseline
			if tt.name == "spec scenario 8 to 9 cubic meters is an alert" {
				b = &Baseline{ID: "b-2", CaseID: "well-42", State: BaselineApproved,
					Volume: 8.0, Density: 2.0, MaxPressureAllowed: 3000}
			}
			_, _, _, got := Classify(b, tt.m)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestClassifyZeroBaselineValues(t *testing.T) {
	b := &Baseline{ID: "b-1", CaseID: "well-42", Volume: 0, Density: 0, MaxPressureAllowed: 3000}

	volDev, densDev, exceeded, class := Classify(b, Measurement{Volume: 5, Density: 1.5, MaxPressure: 100})
	assert.Zero(t, volDev, "zero baseline volume yields zero deviation")
	assert.Zero(t, densDev, "zero baseline density yields zero deviation")
	assert.False(t, exceeded)
	assert.Equal(t, ClassOK, class)
}

func TestClassifyDeterministic(t *testing.T) {
	b := &Baseline{ID: "b-1", CaseID: "well-42", Volume: 8, Density: 1.6, MaxPressureAllowed: 2800}
	m := Measurement{Volume: 9.0, Density: 1.7, MaxPressure: 2650}

	v1, d1, p1, c1 := Classify(b, m)
	v2, d2, p2, c2 := Classify(b, m)
	assert.Equal(t, v1, v2)
	assert.Equal(t, d1, d2)
	assert.Equal(t, p1, p2)
	assert.Equal(t, c1, c2)
}
