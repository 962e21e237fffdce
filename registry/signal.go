package registry

// Quality is a human-readable label for an RSSI reading.
type Quality string

const (
	QualityExcellent Quality = "excellent"
	QualityGood      Quality = "good"
	QualityFair      Quality = "fair"
	QualityWeak      Quality = "weak"
)

// SignalQuality labels signal strength using the usual BLE rule of thumb:
// -50 dBm or stronger is excellent, down to -65 good, down to -80 fair,
// anything weaker is weak.
func SignalQuality(rssi int) Quality {
	switch {
	case rssi >= -50:
		return QualityExcellent
	case rssi >= -65:
		return QualityGood
	case rssi >= -80:
		return QualityFair
	default:
		return QualityWeak
	}
}
