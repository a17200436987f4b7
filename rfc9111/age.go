package rfc9111

import (
	"net/http"
	"time"
)

// §  5.1.  Age
// §
// §     The "Age" response header field conveys the sender's estimate of the
// §     time since the response was generated or successfully validated at
// §     the origin server.
// §
// §       Age = delta-seconds
func getAge(header http.Header) (time.Duration, bool) {
	if secondsStr := header.Get("Age"); secondsStr != "" {
		return deltaSeconds(secondsStr)
	}
	return 0, false
}

func ageValue(header http.Header) time.Duration {
	if age, ok := getAge(header); ok {
		return age
	}
	return 0
}

// §  4.2.3.  Calculating Age
// §
// §       apparent_age = max(0, response_time - date_value);
// §
// §       response_delay = response_time - request_time;
// §       corrected_age_value = age_value + response_delay;
// §
// §       corrected_initial_age = max(apparent_age, corrected_age_value);
// §
// §       resident_time = now - response_time;
// §       current_age = corrected_initial_age + resident_time;
func CurrentAge(header http.Header, requestTime, responseTime, now time.Time) time.Duration {
	apparentAge := time.Duration(0)
	if date, err := HttpDate(header.Get("Date")); err == nil {
		apparentAge = durationMax(0, responseTime.Sub(date))
	}
	responseDelay := durationMax(0, responseTime.Sub(requestTime))
	correctedAgeValue := ageValue(header) + responseDelay
	correctedInitialAge := durationMax(apparentAge, correctedAgeValue)
	residentTime := durationMax(0, now.Sub(responseTime))
	return correctedInitialAge + residentTime
}

// SetAge sets the Age field of a stored header being served at now.
func SetAge(header http.Header, requestTime, responseTime, now time.Time) {
	header.Set("Age", ToDeltaSeconds(CurrentAge(header, requestTime, responseTime, now)))
}

func durationMax(d1, d2 time.Duration) time.Duration {
	if d1 > d2 {
		return d1
	}
	return d2
}
