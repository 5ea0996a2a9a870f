package filesystem

import (
	"encoding/base64"
	"fmt"
	"io"
	"regexp"
	"strings"

	"github.com/Azure/azure-sdk-for-go/storage"
)

type AzureClient struct {
	client     storage.Client
	blobClient storage.BlobStorageClient
}

type AzureFile struct {
	path   string
	client storage.BlobStorageClient
}

// convertToAzurePath function
// like this pattern "ContainerName/BlobName"
func convertToAzurePath(name string) (string, string, error) {
	afterSplit := strings.SplitN(name, "/", 2)
	if len(afterSplit) != 2 || afterSplit[0] == "" || afterSplit[1] == "" {
		return "", "", fmt.Errorf("AzureClient : path %q must look like container/blob", name)
	}
	return afterSplit[0], afterSplit[1], nil
}

// Only check the BlobName if exist or not
// User should Provide corresponding ContainerName
func (c *AzureClient) Exists(name string) (bool, error) {
	containerName, blobName, err := convertToAzurePath(name)
	if err != nil {
		return false, err
	}
	cnt := c.blobClient.GetContainerReference(containerName)
	return cnt.GetBlobReference(blobName).Exists()
}

// Azure prevent user renaming their blob
// Thus this function firstly copy the source blob,
// when finished, delete the source blob.
func (c *AzureClient) Rename(oldpath, newpath string) error {
	exist, err := c.Exists(oldpath)
	if err != nil {
		return err
	}
	if !exist {
		return fmt.Errorf("AzureClient : oldpath doesnot exist")
	}
	srcContainerName, srcBlobName, err := convertToAzurePath(oldpath)
	if err != nil {
		return err
	}
	dstContainerName, dstBlobName, err := convertToAzurePath(newpath)
	if err != nil {
		return err
	}
	src := c.blobClient.GetContainerReference(srcContainerName).GetBlobReference(srcBlobName)
	dst := c.blobClient.GetContainerReference(dstContainerName).GetBlobReference(dstBlobName)
	if err := dst.Copy(src.GetURL(), nil); err != nil {
		return err
	}
	if src.GetURL() != dst.GetURL() {
		return src.Delete(nil)
	}
	return nil
}

func (c *AzureClient) Remove(name string) error {
	containerName, blobName, err := convertToAzurePath(name)
	if err != nil {
		return err
	}
	cnt := c.blobClient.GetContainerReference(containerName)
	return cnt.GetBlobReference(blobName).Delete(nil)
}

func (c *AzureClient) OpenReadCloser(name string) (io.ReadCloser, error) {
	containerName, blobName, err := convertToAzurePath(name)
	if err != nil {
		return nil, err
	}
	cnt := c.blobClient.GetContainerReference(containerName)
	return cnt.GetBlobReference(blobName).Get(nil)
}

// If not exist, Create corresponding Container and blob.
func (c *AzureClient) OpenWriteCloser(name string) (io.WriteCloser, error) {
	exist, err := c.Exists(name)
	if err != nil {
		return nil, err
	}
	containerName, blobName, err := convertToAzurePath(name)
	if err != nil {
		return nil, err
	}
	if !exist {
		cnt := c.blobClient.GetContainerReference(containerName)
		_, err := cnt.CreateIfNotExists(&storage.CreateContainerOptions{
			Access: storage.ContainerAccessTypeBlob,
		})
		if err != nil {
			return nil, err
		}
		if err := cnt.GetBlobReference(blobName).CreateBlockBlob(nil); err != nil {
			return nil, err
		}
	}
	return &AzureFile{
		path:   name,
		client: c.blobClient,
	}, nil
}

// Each write becomes one uncommitted block appended to the block list;
// Azure caps block blobs at 50000 blocks, plenty for task output parts.
func (f *AzureFile) Write(b []byte) (int, error) {
	cnt, blob, err := convertToAzurePath(f.path)
	if err != nil {
		return 0, err
	}
	blobRef := f.client.GetContainerReference(cnt).GetBlobReference(blob)
	blockList, err := blobRef.GetBlockList(storage.BlockListTypeAll, nil)
	if err != nil {
		return 0, err
	}
	blocksLen := len(blockList.CommittedBlocks) + len(blockList.UncommittedBlocks)
	blockID := blockIDFromIndex(blocksLen)
	if err := blobRef.PutBlock(blockID, b, nil); err != nil {
		return 0, err
	}
	blockList, err = blobRef.GetBlockList(storage.BlockListTypeAll, nil)
	if err != nil {
		return 0, err
	}
	amendList := []storage.Block{}
	for _, v := range blockList.CommittedBlocks {
		amendList = append(amendList, storage.Block{ID: v.Name, Status: storage.BlockStatusCommitted})
	}
	for _, v := range blockList.UncommittedBlocks {
		amendList = append(amendList, storage.Block{ID: v.Name, Status: storage.BlockStatusUncommitted})
	}
	if err := blobRef.PutBlockList(amendList, nil); err != nil {
		return 0, err
	}
	return len(b), nil
}

func (f *AzureFile) Close() error {
	return nil
}

// block IDs must be base64 and equally sized within a blob
func blockIDFromIndex(idx int) string {
	return base64.StdEncoding.EncodeToString([]byte(fmt.Sprintf("%011d\n", idx)))
}

// Syntax : container-pattern/blob-pattern
// Follow regexp syntax except "/"
func (c *AzureClient) Glob(pattern string) (matches []string, err error) {
	afterSplit := strings.SplitN(pattern, "/", 2)
	if len(afterSplit) != 2 {
		return nil, fmt.Errorf("Glob pattern should follow the Syntax")
	}
	cntPattern, blobPattern := afterSplit[0], afterSplit[1]
	resp, err := c.blobClient.ListContainers(storage.ListContainersParameters{Prefix: ""})
	if err != nil {
		return nil, err
	}
	for _, cnt := range resp.Containers {
		if match, err := regexp.MatchString(cntPattern, cnt.Name); !match || err != nil {
			continue
		}
		cntRef := c.blobClient.GetContainerReference(cnt.Name)
		blobs, err := cntRef.ListBlobs(storage.ListBlobsParameters{Marker: ""})
		if err != nil {
			return nil, err
		}
		for _, v := range blobs.Blobs {
			if match, err := regexp.MatchString(blobPattern, v.Name); match && err == nil {
				matches = append(matches, cnt.Name+"/"+v.Name)
			}
		}
	}
	return matches, nil
}

// NewAzureClient constructs a client against a specific storage endpoint.
// Pass storage.DefaultBaseURL and storage.DefaultAPIVersion unless the
// account lives in a sovereign cloud.
func NewAzureClient(accountName, accountKey, serviceBaseURL, apiVersion string, useHTTPS bool) (*AzureClient, error) {
	cli, err := storage.NewClient(accountName, accountKey, serviceBaseURL, apiVersion, useHTTPS)
	if err != nil {
		return nil, err
	}
	return &AzureClient{
		client:     cli,
		blobClient: cli.GetBlobService(),
	}, nil
}
