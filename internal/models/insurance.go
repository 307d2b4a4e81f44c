package models

// InsuranceProfile is the input to a premium estimate.
type InsuranceProfile struct {
	Age           int     `json:"age"`
	BMI           float64 `json:"bmi"`
	Children      int     `json:"children"`
	BloodPressure int     `json:"blood_pressure"`
	Gender        string  `json:"gender"`   // male | female
	Diabetic      string  `json:"diabetic"` // Yes | No
	Smoker        string  `json:"smoker"`   // Yes | No
}
