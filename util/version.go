package util

func VersionGet() string {
	return "v0.2.0"
}
