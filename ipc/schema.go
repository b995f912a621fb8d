package ipc

import (
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/reflect/protodesc"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/types/descriptorpb"
)

// schema holds the descriptors of the messages exchanged on the
// control socket. The equivalent .proto is
//
//	syntax = "proto3";
//	package wlcomp.ipc;
//
//	enum RequestType {
//	  REQUEST_TYPE_UNSPECIFIED = 0;
//	  REQUEST_TYPE_OUTPUTS = 1;
//	  REQUEST_TYPE_STATS = 2;
//	}
//
//	message Request { RequestType type = 1; }
//
//	message Counters {
//	  uint64 presented = 1;
//	  uint64 dropped = 2;
//	  uint64 skipped = 3;
//	  uint64 damage_area = 4;
//	  int64 last_latency_ns = 5;
//	  int64 avg_latency_ns = 6;
//	}
//
//	message Output {
//	  uint64 id = 1;
//	  string name = 2;
//	  string make = 3;
//	  string model = 4;
//	  int32 width = 5;
//	  int32 height = 6;
//	  int32 refresh_mhz = 7;
//	  int32 x = 8;
//	  int32 y = 9;
//	  int32 scale = 10;
//	  string transform = 11;
//	  string state = 12;
//	  Counters counters = 13;
//	}
//
//	message Snapshot {
//	  int64 uptime_ns = 1;
//	  int32 clients = 2;
//	  int32 surfaces = 3;
//	  int32 buffers = 4;
//	  repeated Output outputs = 5;
//	}
//
//	message OutputResponse { repeated Output outputs = 1; }
//	message StatsResponse { Snapshot snapshot = 1; }
//
//	message Response {
//	  string error = 1;
//	  OutputResponse outputs = 2;
//	  StatsResponse stats = 3;
//	}
var schema = mustSchema()

type descriptors struct {
	requestType protoreflect.EnumDescriptor

	request        protoreflect.MessageDescriptor
	counters       protoreflect.MessageDescriptor
	output         protoreflect.MessageDescriptor
	snapshot       protoreflect.MessageDescriptor
	outputResponse protoreflect.MessageDescriptor
	statsResponse  protoreflect.MessageDescriptor
	response       protoreflect.MessageDescriptor
}

const protoPackage = "wlcomp.ipc"

var (
	typeUint64  = descriptorpb.FieldDescriptorProto_TYPE_UINT64
	typeInt64   = descriptorpb.FieldDescriptorProto_TYPE_INT64
	typeInt32   = descriptorpb.FieldDescriptorProto_TYPE_INT32
	typeString  = descriptorpb.FieldDescriptorProto_TYPE_STRING
	typeEnum    = descriptorpb.FieldDescriptorProto_TYPE_ENUM
	typeMessage = descriptorpb.FieldDescriptorProto_TYPE_MESSAGE
)

func field(name string, num int32, typ descriptorpb.FieldDescriptorProto_Type) *descriptorpb.FieldDescriptorProto {
	return &descriptorpb.FieldDescriptorProto{
		Name:   proto.String(name),
		Number: proto.Int32(num),
		Label:  descriptorpb.FieldDescriptorProto_LABEL_OPTIONAL.Enum(),
		Type:   typ.Enum(),
	}
}

// ref is a field of an enum or message type declared in this package.
func ref(name string, num int32, typ descriptorpb.FieldDescriptorProto_Type, typeName string) *descriptorpb.FieldDescriptorProto {
	f := field(name, num, typ)
	f.TypeName = proto.String("." + protoPackage + "." + typeName)
	return f
}

func repeated(f *descriptorpb.FieldDescriptorProto) *descriptorpb.FieldDescriptorProto {
	f.Label = descriptorpb.FieldDescriptorProto_LABEL_REPEATED.Enum()
	return f
}

func message(name string, fields ...*descriptorpb.FieldDescriptorProto) *descriptorpb.DescriptorProto {
	return &descriptorpb.DescriptorProto{Name: proto.String(name), Field: fields}
}

func mustSchema() descriptors {
	fdp := descriptorpb.FileDescriptorProto{
		Name:    proto.String("wlcomp/ipc.proto"),
		Package: proto.String(protoPackage),
		Syntax:  proto.String("proto3"),
		EnumType: []*descriptorpb.EnumDescriptorProto{{
			Name: proto.String("RequestType"),
			Value: []*descriptorpb.EnumValueDescriptorProto{
				{Name: proto.String("REQUEST_TYPE_UNSPECIFIED"), Number: proto.Int32(0)},
				{Name: proto.String("REQUEST_TYPE_OUTPUTS"), Number: proto.Int32(int32(RequestOutputs))},
				{Name: proto.String("REQUEST_TYPE_STATS"), Number: proto.Int32(int32(RequestStats))},
			},
		}},
		MessageType: []*descriptorpb.DescriptorProto{
			message("Request",
				ref("type", 1, typeEnum, "RequestType"),
			),
			message("Counters",
				field("presented", 1, typeUint64),
				field("dropped", 2, typeUint64),
				field("skipped", 3, typeUint64),
				field("damage_area", 4, typeUint64),
				field("last_latency_ns", 5, typeInt64),
				field("avg_latency_ns", 6, typeInt64),
			),
			message("Output",
				field("id", 1, typeUint64),
				field("name", 2, typeString),
				field("make", 3, typeString),
				field("model", 4, typeString),
				field("width", 5, typeInt32),
				field("height", 6, typeInt32),
				field("refresh_mhz", 7, typeInt32),
				field("x", 8, typeInt32),
				field("y", 9, typeInt32),
				field("scale", 10, typeInt32),
				field("transform", 11, typeString),
				field("state", 12, typeString),
				ref("counters", 13, typeMessage, "Counters"),
			),
			message("Snapshot",
				field("uptime_ns", 1, typeInt64),
				field("clients", 2, typeInt32),
				field("surfaces", 3, typeInt32),
				field("buffers", 4, typeInt32),
				repeated(ref("outputs", 5, typeMessage, "Output")),
			),
			message("OutputResponse",
				repeated(ref("outputs", 1, typeMessage, "Output")),
			),
			message("StatsResponse",
				ref("snapshot", 1, typeMessage, "Snapshot"),
			),
			message("Response",
				field("error", 1, typeString),
				ref("outputs", 2, typeMessage, "OutputResponse"),
				ref("stats", 3, typeMessage, "StatsResponse"),
			),
		},
	}

	fd, err := protodesc.NewFile(&fdp, nil)
	if err != nil {
		panic(err)
	}

	msgs := fd.Messages()
	return descriptors{
		requestType:    fd.Enums().ByName("RequestType"),
		request:        msgs.ByName("Request"),
		counters:       msgs.ByName("Counters"),
		output:         msgs.ByName("Output"),
		snapshot:       msgs.ByName("Snapshot"),
		outputResponse: msgs.ByName("OutputResponse"),
		statsResponse:  msgs.ByName("StatsResponse"),
		response:       msgs.ByName("Response"),
	}
}
