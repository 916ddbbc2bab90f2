package vitals

// CalculateBMI expects height in centimeters and weight in kilograms.
// ok is false when either input is missing.
func CalculateBMI(heightCm, weightKg float64) (bmi float64, ok bool) {
	if heightCm <= 0 || weightKg <= 0 {
		return 0, false
	}
	h := heightCm / 100.0
	return weightKg / (h * h), true
}

func BMICategory(bmi float64) string {
	switch {
	case bmi < 18.5:
		return "Underweight"
	case bmi < 25.0:
		return "Normal weight"
	case bmi < 30.0:
		return "Overweight"
	case bmi < 35.0:
		return "Obesity class I"
	case bmi < 40.0:
		return "Obesity class II"
	default:
		return "Obesity class III"
	}
}

// fillBMI derives BMI when the sample carries both weight and height
func fillBMI(v *VitalSigns) {
	w, wok := optional(v.Weight)
	h, hok := optional(v.Height)
	if !wok || !hok {
		return
	}
	if bmi, ok := CalculateBMI(h, w); ok {
		v.BMI = &bmi
	}
}
