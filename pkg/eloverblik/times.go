package eloverblik

import (
	"fmt"
	"time"
)

// Location is the timezone Eloverblik calendar dates are expressed in.
var Location = func() *time.Location {
	loc, err := time.LoadLocation("Europe/Copenhagen")
	if err != nil {
		panic(fmt.Errorf("failed to load copenhagen time location: %w", err))
	}
	return loc
}()

// Date truncates t to midnight in Copenhagen.
func Date(t time.Time) time.Time {
	t = t.In(Location)
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, Location)
}

const dateFormat = "2006-01-02"
