package transform

import (
	"net/url"
	"strings"
)

// SiteDomain is the warehouse's own web domain. Referrers under it are internal.
const SiteDomain = "puffy.com"

// Marketing source labels.
const (
	SourceGoogleAds     = "google_ads"
	SourceMetaAds       = "meta_ads"
	SourceTikTokAds     = "tiktok_ads"
	SourceMicrosoftAds  = "microsoft_ads"
	SourceUTMTagged     = "utm_tagged"
	SourceGoogleOrganic = "google_organic"
	SourceBingOrganic   = "bing_organic"
	SourceDirect        = "direct"
	SourceInternal      = "internal"
	SourceOtherReferrer = "other_referrer"
)

// Paid click-id parameters in priority order.
var paidClickIDs = []struct {
	params []string
	source string
}{
	{[]string{"gclid", "gbraid", "wbraid", "gad_source"}, SourceGoogleAds},
	{[]string{"fbclid"}, SourceMetaAds},
	{[]string{"ttclid"}, SourceTikTokAds},
	{[]string{"msclkid"}, SourceMicrosoftAds},
}

// Referrer hosts counted as organic search.
var organicSearch = map[string]string{
	"google.com":     SourceGoogleOrganic,
	"www.google.com": SourceGoogleOrganic,
	"bing.com":       SourceBingOrganic,
	"www.bing.com":   SourceBingOrganic,
}

// queryParams parses the query string of a page URL. Blank values are
// dropped, and a parameter left with no values is absent.
func queryParams(pageURL string) url.Values {
	q := pageURL
	if i := strings.IndexByte(q, '#'); i >= 0 {
		q = q[:i]
	}
	i := strings.IndexByte(q, '?')
	if i < 0 {
		return url.Values{}
	}

	// ParseQuery keeps the well-formed pairs even when it reports an error.
	parsed, _ := url.ParseQuery(q[i+1:])
	out := make(url.Values, len(parsed))
	for k, vs := range parsed {
		for _, v := range vs {
			if v != "" {
				out[k] = append(out[k], v)
			}
		}
	}
	return out
}

func firstValue(q url.Values, key string) *string {
	if vs := q[key]; len(vs) > 0 {
		v := vs[0]
		return &v
	}
	return nil
}

func utmOf(q url.Values) UTM {
	return UTM{
		Source:   firstValue(q, "utm_source"),
		Medium:   firstValue(q, "utm_medium"),
		Campaign: firstValue(q, "utm_campaign"),
	}
}

// refDomain returns the lower-cased referrer host, or nil when the referrer
// is missing, unparsable or has no host.
func refDomain(referrer *string) *string {
	if referrer == nil || *referrer == "" {
		return nil
	}
	u, err := url.Parse(*referrer)
	if err != nil {
		return nil
	}
	host := strings.ToLower(u.Hostname())
	if host == "" {
		return nil
	}
	return &host
}

// classifyMarketing applies the marketing source chain. First match wins.
// Only a missing or empty referrer is direct; a referrer without a usable
// host (ref nil) is still an outside referrer.
func classifyMarketing(q url.Values, referrer, ref *string) string {
	for _, paid := range paidClickIDs {
		for _, p := range paid.params {
			if _, ok := q[p]; ok {
				return paid.source
			}
		}
	}

	for k := range q {
		if strings.HasPrefix(k, "utm_") {
			return SourceUTMTagged
		}
	}

	if referrer == nil || *referrer == "" {
		return SourceDirect
	}
	if ref == nil {
		return SourceOtherReferrer
	}
	if src, ok := organicSearch[*ref]; ok {
		return src
	}
	if strings.HasSuffix(*ref, SiteDomain) {
		return SourceInternal
	}
	return SourceOtherReferrer
}
