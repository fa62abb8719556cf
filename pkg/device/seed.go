package device

// DefaultSeed returns the device set a server starts with when no other set
// is configured.
func DefaultSeed() []Record {
	return []Record{
		{ID: 1, Temperature: 22.5, Battery: 85, Status: StatusOnline},
		{ID: 2, Temperature: 19.0, Battery: 60, Status: StatusOnline},
		{ID: 3, Temperature: 25.3, Battery: 40, Status: StatusOffline},
		{ID: 4, Temperature: 30.1, Battery: 20, Status: StatusError},
		{ID: 5, Temperature: 18.7, Battery: 90, Status: StatusOnline},
	}
}
