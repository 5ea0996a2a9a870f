// pipesubmit stages a task binary into HDFS and submits it through the
// mapred pipes CLI. The Hadoop side stays a black box: this tool only
// copies the binary and builds the command line.
package main

import (
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/exec"
	"path"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/taskpipe/taskpipe/filesystem"
)

type confFlags []string

func (c *confFlags) String() string { return strings.Join(*c, ",") }

func (c *confFlags) Set(v string) error {
	if !strings.Contains(v, "=") {
		return fmt.Errorf("conf entry %q must look like key=value", v)
	}
	*c = append(*c, v)
	return nil
}

func main() {
	logger := log.New(os.Stdout, "", log.Ldate|log.Ltime|log.Lshortfile)

	var (
		envFile    = flag.String("env", "", "optional .env file with cluster endpoints")
		program    = flag.String("program", "", "local path of the task binary")
		stagePath  = flag.String("stage", "", "HDFS path to stage the binary at (default /user/<user>/bin/<name>)")
		input      = flag.String("input", "", "job input path or glob")
		output     = flag.String("output", "", "job output directory")
		reduces    = flag.Int("reduces", 1, "number of reduce tasks")
		javaReader = flag.Bool("java-recordreader", true, "let the Java side read input records")
		javaWriter = flag.Bool("java-recordwriter", true, "let the Java side write output records")
		conf       confFlags
	)
	flag.Var(&conf, "D", "extra job conf entry, key=value (repeatable)")
	flag.Parse()
	if *program == "" || *input == "" || *output == "" {
		flag.Usage()
		os.Exit(2)
	}

	if *envFile != "" {
		if err := godotenv.Load(*envFile); err != nil {
			logger.Fatalf("load %s: %v", *envFile, err)
		}
	} else {
		// a .env next to the invocation is picked up when present
		godotenv.Load()
	}
	namenodeAddr := os.Getenv("NAMENODE_ADDR")
	webHdfsAddr := os.Getenv("WEBHDFS_ADDR")
	hdfsUser := os.Getenv("HDFS_USER")
	if namenodeAddr == "" || webHdfsAddr == "" {
		logger.Fatalf("NAMENODE_ADDR and WEBHDFS_ADDR must be set (environment or .env)")
	}

	client, err := filesystem.NewHdfsClient(namenodeAddr, webHdfsAddr, hdfsUser)
	if err != nil {
		logger.Fatalf("connect to %s: %v", namenodeAddr, err)
	}

	dst := *stagePath
	if dst == "" {
		dst = path.Join("/user", hdfsUser, "bin", path.Base(*program))
	}
	if err := stage(client, *program, dst); err != nil {
		logger.Fatalf("stage %s at %s: %v", *program, dst, err)
	}
	logger.Printf("staged %s at %s", *program, dst)

	args := []string{"pipes"}
	for _, kv := range conf {
		args = append(args, "-D", kv)
	}
	args = append(args,
		"-D", "hadoop.pipes.java.recordreader="+strconv.FormatBool(*javaReader),
		"-D", "hadoop.pipes.java.recordwriter="+strconv.FormatBool(*javaWriter),
		"-program", dst,
		"-input", *input,
		"-output", *output,
		"-reduces", strconv.Itoa(*reduces),
	)
	logger.Printf("mapred %s", strings.Join(args, " "))
	cmd := exec.Command("mapred", args...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Run(); err != nil {
		logger.Fatalf("mapred pipes: %v", err)
	}
}

// stage copies the binary into the DFS, replacing any previous copy so the
// append-only write doesn't pile new bytes onto an old build.
func stage(client filesystem.Client, src, dst string) error {
	exist, err := client.Exists(dst)
	if err != nil {
		return err
	}
	if exist {
		if err := client.Remove(dst); err != nil {
			return err
		}
	}
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := client.OpenWriteCloser(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
