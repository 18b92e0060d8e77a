package eventhandler

// payloadInt читает целое из Payload. После JSON числа приходят как float64.
func payloadInt(data map[string]interface{}, key string) int {
	switch v := data[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return 0
}

func payloadString(data map[string]interface{}, key string) string {
	s, _ := data[key].(string)
	return s
}
