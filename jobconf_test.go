package taskpipe

import "testing"

func TestJobConfTypedGetters(t *testing.T) {
	jc := JobConf{
		"mapreduce.task.partition":  "3",
		"mapreduce.job.output.dir":  "/user/out",
		"taskpipe.progress.enabled": "true",
		"taskpipe.sample.rate":      "0.25",
		"taskpipe.bad.int":          "seven",
	}

	if n, err := jc.GetInt("mapreduce.task.partition"); err != nil || n != 3 {
		t.Errorf("GetInt = %d, %v, want 3", n, err)
	}
	if b, err := jc.GetBool("taskpipe.progress.enabled"); err != nil || !b {
		t.Errorf("GetBool = %v, %v, want true", b, err)
	}
	if f, err := jc.GetFloat("taskpipe.sample.rate"); err != nil || f != 0.25 {
		t.Errorf("GetFloat = %v, %v, want 0.25", f, err)
	}
	if _, err := jc.GetInt("taskpipe.bad.int"); err == nil {
		t.Errorf("GetInt on %q should fail", "seven")
	}
	if _, err := jc.Get("no.such.key"); err == nil {
		t.Errorf("Get on missing key should fail")
	}
	if got := jc.GetOrDefault("no.such.key", "fallback"); got != "fallback" {
		t.Errorf("GetOrDefault = %q, want fallback", got)
	}
}
