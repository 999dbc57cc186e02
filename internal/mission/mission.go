// Package mission loads the free-text MISSION.md the device operator writes
// to steer its purpose. A missing file is not an error — it simply means
// the mission is still unknown.
package mission

import "os"

// Load returns the contents of the mission file at path, or "" if it does
// not exist.
func Load(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", err
	}
	return string(data), nil
}
