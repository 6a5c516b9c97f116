package datasource

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
)

type azureLocation struct {
	account   string
	container string
	blob      string
}

func parseAzure(u *url.URL) (azureLocation, error) {
	container, blob, err := splitObjectPath(u.Path)
	if err != nil {
		return azureLocation{}, err
	}
	if u.Host == "" {
		return azureLocation{}, fmt.Errorf("datasource: expected azure://<account>/<container>/<blob>")
	}
	return azureLocation{account: u.Host, container: container, blob: blob}, nil
}

// openAzure reads azure://account/container/blob using a shared key or a SAS
// token. The sas query parameter overrides Options.AzureSASToken.
func openAzure(ctx context.Context, u *url.URL, opts Options) (fetched, error) {
	loc, err := parseAzure(u)
	if err != nil {
		return fetched{}, err
	}
	endpoint := opts.AzureEndpoint
	if endpoint == "" {
		endpoint = fmt.Sprintf("https://%s.blob.core.windows.net", loc.account)
	}
	sas := opts.AzureSASToken
	if v := u.Query().Get("sas"); v != "" {
		sas = v
	}
	clientOpts := &azblob.ClientOptions{ClientOptions: azcore.ClientOptions{Transport: httpClient(opts)}}
	var client *azblob.Client
	switch {
	case sas != "":
		client, err = azblob.NewClientWithNoCredential(strings.TrimRight(endpoint, "/")+"/?"+strings.TrimPrefix(sas, "?"), clientOpts)
	case opts.AzureAccountKey != "":
		cred, credErr := azblob.NewSharedKeyCredential(loc.account, opts.AzureAccountKey)
		if credErr != nil {
			return fetched{}, fmt.Errorf("datasource: azure credentials: %w", credErr)
		}
		client, err = azblob.NewClientWithSharedKeyCredential(endpoint, cred, clientOpts)
	default:
		return fetched{}, fmt.Errorf("datasource: azure account key or SAS token required")
	}
	if err != nil {
		return fetched{}, fmt.Errorf("datasource: azure client: %w", err)
	}
	resp, err := client.DownloadStream(ctx, loc.container, loc.blob, nil)
	if err != nil {
		var respErr *azcore.ResponseError
		if errors.As(err, &respErr) && respErr.StatusCode == http.StatusNotFound {
			return fetched{}, fmt.Errorf("%w: azure %s/%s", ErrNotFound, loc.container, loc.blob)
		}
		return fetched{}, fmt.Errorf("datasource: azure download %s/%s: %w", loc.container, loc.blob, err)
	}
	var size int64
	if resp.ContentLength != nil {
		size = *resp.ContentLength
	}
	var contentType string
	if resp.ContentType != nil {
		contentType = *resp.ContentType
	}
	return fetched{body: resp.Body, contentType: contentType, size: size}, nil
}
