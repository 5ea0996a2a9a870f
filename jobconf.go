package taskpipe

import (
	"fmt"
	"strconv"
)

// JobConf holds the job configuration the upstream runtime sends at task
// start. It is built once by the driver and passed around explicitly; there
// is no process-wide configuration singleton.
type JobConf map[string]string

func (jc JobConf) Has(key string) bool {
	_, ok := jc[key]
	return ok
}

func (jc JobConf) Get(key string) (string, error) {
	v, ok := jc[key]
	if !ok {
		return "", fmt.Errorf("taskpipe: job conf has no key %q", key)
	}
	return v, nil
}

// GetOrDefault returns the value for key, or def when the key is absent.
func (jc JobConf) GetOrDefault(key, def string) string {
	if v, ok := jc[key]; ok {
		return v
	}
	return def
}

func (jc JobConf) GetInt(key string) (int64, error) {
	v, err := jc.Get(key)
	if err != nil {
		return 0, err
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("taskpipe: job conf key %q: %v", key, err)
	}
	return n, nil
}

func (jc JobConf) GetFloat(key string) (float64, error) {
	v, err := jc.Get(key)
	if err != nil {
		return 0, err
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("taskpipe: job conf key %q: %v", key, err)
	}
	return f, nil
}

func (jc JobConf) GetBool(key string) (bool, error) {
	v, err := jc.Get(key)
	if err != nil {
		return false, err
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("taskpipe: job conf key %q: %v", key, err)
	}
	return b, nil
}
