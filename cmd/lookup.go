package main

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/spf13/cobra"

	"github.com/sells-group/annotated-calllog/internal/model"
	"github.com/sells-group/annotated-calllog/internal/phonelookup"
	"github.com/sells-group/annotated-calllog/internal/phonenumber"
)

var lookupRegion string

var lookupCmd = &cobra.Command{
	Use:   "lookup <number>",
	Short: "Look a phone number up in every source and print the merged result",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx, "lookup")
		if err != nil {
			return err
		}
		defer env.Close()

		region := lookupRegion
		if region == "" {
			region = env.Device.CountryISO()
		}

		res, err := lookupNumber(ctx, env.Lookups, args[0], region)
		if err != nil {
			return err
		}

		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(res)
	},
}

func init() {
	lookupCmd.Flags().StringVar(&lookupRegion, "region", "", "region to parse the number against (default device region)")
	rootCmd.AddCommand(lookupCmd)
}

// lookupResult is the merged lookup info for a number along with the values
// the selector derives from it.
type lookupResult struct {
	Number   model.DialerPhoneNumber `json:"number"`
	Info     model.PhoneLookupInfo   `json:"info"`
	Selected selectedValues          `json:"selected"`
}

type selectedValues struct {
	Name            string `json:"name"`
	NameSource      string `json:"name_source,omitempty"`
	PhotoURI        string `json:"photo_uri,omitempty"`
	PhotoID         int64  `json:"photo_id,omitempty"`
	LookupURI       string `json:"lookup_uri,omitempty"`
	NumberLabel     string `json:"number_label,omitempty"`
	CarrierVideo    bool   `json:"carrier_video"`
	IsBusiness      bool   `json:"is_business"`
	IsBlocked       bool   `json:"is_blocked"`
	IsEmergency     bool   `json:"is_emergency"`
	Cp2Incomplete   bool   `json:"cp2_incomplete"`
	FormattedNumber string `json:"formatted_number,omitempty"`
}

func lookupNumber(ctx context.Context, lookups *phonelookup.Composite, raw, region string) (lookupResult, error) {
	region = strings.ToUpper(region)
	number := phonenumber.Parse(raw, region)
	info, err := lookups.LookupCall(ctx, model.Call{Number: raw, CountryISO: region})
	if err != nil {
		return lookupResult{}, err
	}

	sel := selectedValues{
		Name:            phonelookup.SelectName(info),
		PhotoURI:        phonelookup.SelectPhotoURI(info),
		PhotoID:         phonelookup.SelectPhotoID(info),
		LookupURI:       phonelookup.SelectLookupURI(info),
		NumberLabel:     phonelookup.SelectNumberLabel(info),
		CarrierVideo:    phonelookup.CanSupportCarrierVideoCall(info),
		IsBusiness:      phonelookup.IsBusiness(info),
		IsBlocked:       phonelookup.IsBlocked(info),
		IsEmergency:     phonelookup.IsEmergencyNumber(info),
		Cp2Incomplete:   phonelookup.IsDefaultCp2InfoIncomplete(info),
		FormattedNumber: phonenumber.FormatNational(raw, region),
	}
	if src, ok := phonelookup.NameSource(info); ok {
		sel.NameSource = string(src)
	}

	return lookupResult{Number: number, Info: info, Selected: sel}, nil
}
