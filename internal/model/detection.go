package model

// Detection reasons emitted by the engine.
const (
	ReasonPortScan     = "Port_Scan_Rule"
	ReasonBruteForce   = "Brute_Force_Rule"
	ReasonExfiltration = "Exfiltration_Rule"
	ReasonBeaconing    = "Beaconing_Rule"
	ReasonML           = "ML_Detection"
)

// Attack categories guessed by the heuristic rules.
const (
	ClassPortScan     = "port_scan"
	ClassBruteForce   = "brute_force"
	ClassExfiltration = "exfiltration"
	ClassBeaconing    = "beaconing"
)

// Detection is a single rule or model hit for one flow. A flow may produce several.
type Detection struct {
	RowID      int64          `json:"row_id"`
	Reason     string         `json:"reason"`
	Score      float64        `json:"score"`
	ClassGuess string         `json:"class_guess"`
	Explain    map[string]any `json:"explain"`
}
