package common

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

//go:generate go run github.com/dmarkham/enumer -json -type ItemKind

// ItemKind defines the family of items a source id belongs to
type ItemKind int

const (
	Unknown       ItemKind = iota
	PSScene                // YYYYMMDD_HHMMSS_SSSS or YYYYMMDD_HHMMSS_FF_SSSS
	SkySatScene            // YYYYMMDD_HHMMSS_sscNdM_FFFF
	SkySatCollect          // YYYYMMDD_HHMMSS_sscN_uFFFF
)

var (
	psSceneRe       = regexp.MustCompile(`^\d{8}_\d{6}(_\d{2})?_[0-9a-f]{4}$`)
	skySatSceneRe   = regexp.MustCompile(`^\d{8}_\d{6}_ssc\d+d\d+_\d{4}$`)
	skySatCollectRe = regexp.MustCompile(`^\d{8}_\d{6}_ssc\d+_u\d+$`)
)

// GetItemKindFromString returns the item kind from the user input
func GetItemKindFromString(input string) ItemKind {
	switch strings.ToLower(input) {
	case "psscene", "ps":
		return PSScene
	case "skysatscene", "skysat":
		return SkySatScene
	case "skysatcollect":
		return SkySatCollect
	}
	return GetItemKindFromSourceID(input)
}

func GetItemKindFromSourceID(sourceID string) ItemKind {
	if skySatSceneRe.MatchString(sourceID) {
		return SkySatScene
	}
	if skySatCollectRe.MatchString(sourceID) {
		return SkySatCollect
	}
	if psSceneRe.MatchString(sourceID) {
		return PSScene
	}
	return Unknown
}

func GetDateFromSourceID(sourceID string) (time.Time, error) {
	info, err := Info(sourceID)
	if err != nil {
		return time.Time{}, err
	}
	return time.Parse("20060102", info["DATE"])
}

func Info(sourceID string) (map[string]string, error) {
	parts := strings.Split(sourceID, "_")
	switch GetItemKindFromSourceID(sourceID) {
	case PSScene:
		info := map[string]string{
			"ITEM":         sourceID,
			"DATE":         parts[0],
			"YEAR":         parts[0][0:4],
			"MONTH":        parts[0][4:6],
			"DAY":          parts[0][6:8],
			"TIME":         parts[1],
			"HOUR":         parts[1][0:2],
			"MINUTE":       parts[1][2:4],
			"SECOND":       parts[1][4:6],
			"SATELLITE_ID": parts[len(parts)-1],
		}
		if len(parts) == 4 {
			info["FRACTION"] = parts[2]
		}
		return info, nil
	case SkySatScene:
		d := strings.Index(parts[2], "d")
		return map[string]string{
			"ITEM":         sourceID,
			"DATE":         parts[0],
			"YEAR":         parts[0][0:4],
			"MONTH":        parts[0][4:6],
			"DAY":          parts[0][6:8],
			"TIME":         parts[1],
			"HOUR":         parts[1][0:2],
			"MINUTE":       parts[1][2:4],
			"SECOND":       parts[1][4:6],
			"SATELLITE_ID": parts[2][:d],
			"DETECTOR":     parts[2][d+1:],
			"FRAME":        parts[3],
		}, nil
	case SkySatCollect:
		return map[string]string{
			"ITEM":         sourceID,
			"DATE":         parts[0],
			"YEAR":         parts[0][0:4],
			"MONTH":        parts[0][4:6],
			"DAY":          parts[0][6:8],
			"TIME":         parts[1],
			"HOUR":         parts[1][0:2],
			"MINUTE":       parts[1][2:4],
			"SECOND":       parts[1][4:6],
			"SATELLITE_ID": parts[2],
			"COLLECT":      parts[3][1:],
		}, nil
	}
	return nil, fmt.Errorf("invalid item id: %s", sourceID)
}

/**
 * FormatBrackets replaces in <str> all {keys} of <info> by the corresponding value
 * keys must be one of ITEM, DATE(YEAR/MONTH/DAY), TIME(HOUR/MINUTE/SECOND), SATELLITE_ID, FRACTION, DETECTOR, FRAME, COLLECT
 */
func FormatBrackets(str string, infos ...map[string]string) string {
	for _, info := range infos {
		for k, v := range info {
			str = strings.ReplaceAll(str, "{"+k+"}", v)
		}
	}
	return str
}
